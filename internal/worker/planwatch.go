package worker

import (
	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/memoryd/internal/planstore"
	"github.com/lukaszraczylo/memoryd/internal/watcher"
	"github.com/lukaszraczylo/memoryd/internal/worker/sse"
)

// ensurePlanDirWatcher starts (once per project root) a debounced watch
// over <projectRoot>/docs/plans, so a plan file edited outside the worker's
// own routes still triggers a plan_association_changed broadcast. Project
// roots are only known at request time (the "project" query param), so
// watchers are created lazily rather than all up front at startup.
func (s *Service) ensurePlanDirWatcher(projectRoot string) {
	if projectRoot == "" {
		return
	}

	s.planWatchersMu.Lock()
	defer s.planWatchersMu.Unlock()

	if _, ok := s.planWatchers[projectRoot]; ok {
		return
	}

	w, err := watcher.New(planstore.PlansDir(projectRoot), func(path string) {
		log.Debug().Str("project", projectRoot).Str("path", path).Msg("worker: plan file changed out of band")
		s.sseBroadcaster.BroadcastEvent(sse.EventPlanAssociationChange, map[string]interface{}{
			"project": projectRoot,
			"path":    path,
		})
	})
	if err != nil {
		log.Warn().Err(err).Str("project", projectRoot).Msg("worker: failed to create plan directory watcher")
		return
	}
	if err := w.Start(); err != nil {
		log.Warn().Err(err).Str("project", projectRoot).Msg("worker: failed to start plan directory watcher")
		return
	}

	s.planWatchers[projectRoot] = w
}

// stopPlanWatchers stops every lazily created plan directory watcher, part
// of Shutdown's teardown of background work the HTTP surface started.
func (s *Service) stopPlanWatchers() {
	s.planWatchersMu.Lock()
	defer s.planWatchersMu.Unlock()
	for project, w := range s.planWatchers {
		if err := w.Stop(); err != nil {
			log.Warn().Err(err).Str("project", project).Msg("worker: failed to stop plan directory watcher")
		}
	}
	s.planWatchers = nil
}

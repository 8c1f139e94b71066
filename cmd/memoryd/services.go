package main

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/lukaszraczylo/memoryd/internal/retention"
	"github.com/lukaszraczylo/memoryd/internal/worker/session"
)

// retentionService adapts retention.Scheduler to suture.Service: Start
// arms the startup-delay-then-periodic timer chain, and the service stops
// it again when ctx is cancelled at shutdown.
type retentionService struct {
	db     *gorm.DB
	policy retention.Policy
}

func (r retentionService) Serve(ctx context.Context) error {
	sched := retention.New(r.db)
	sched.Start(r.policy)
	<-ctx.Done()
	sched.Stop()
	return nil
}

// idleSweepService periodically sweeps sessions idle longer than
// session.SessionTimeout out of the in-memory session manager.
type idleSweepService struct {
	sessions *session.Manager
}

func (s idleSweepService) Serve(ctx context.Context) error {
	ticker := time.NewTicker(session.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sessions.SweepIdle()
			log.Debug().Msg("memoryd: idle session sweep ran")
		}
	}
}

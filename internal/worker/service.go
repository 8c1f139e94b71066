// Package worker provides the main worker service for memoryd.
package worker

import (
	"context"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/lukaszraczylo/memoryd/internal/config"
	"github.com/lukaszraczylo/memoryd/internal/contextengine"
	"github.com/lukaszraczylo/memoryd/internal/eventbus"
	"github.com/lukaszraczylo/memoryd/internal/metrics"
	"github.com/lukaszraczylo/memoryd/internal/planstore"
	"github.com/lukaszraczylo/memoryd/internal/queue"
	"github.com/lukaszraczylo/memoryd/internal/store"
	"github.com/lukaszraczylo/memoryd/internal/tokencount"
	"github.com/lukaszraczylo/memoryd/internal/watcher"
	"github.com/lukaszraczylo/memoryd/internal/worker/session"
	"github.com/lukaszraczylo/memoryd/internal/worker/sse"
)

// Service is the HTTP surface: it owns the router, every domain
// collaborator the handlers dispatch to, and the readiness flag that
// gates the domain routes and that GET /health reports.
type Service struct {
	version string
	config  *config.DaemonConfig

	store          *store.Store
	queue          *queue.Queue
	bus            *eventbus.Bus
	plans          *planstore.Store
	contextEngine  *contextengine.Engine
	sessionManager *session.Manager
	sseBroadcaster *sse.Broadcaster
	tokenCounter   *tokencount.Counter
	instruments    *metrics.Instruments
	healthServer   *health.Server

	planWatchersMu sync.Mutex
	planWatchers   map[string]*watcher.Watcher

	router *chi.Mux

	ctx    context.Context
	cancel context.CancelFunc

	startTime time.Time
	ready     atomic.Bool
}

// New wires a Service from its collaborators and registers every route.
func New(version string, cfg *config.DaemonConfig, st *store.Store, q *queue.Queue, bus *eventbus.Bus, plans *planstore.Store, engine *contextengine.Engine, sessions *session.Manager, broadcaster *sse.Broadcaster) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	svc := &Service{
		version:        version,
		config:         cfg,
		store:          st,
		queue:          q,
		bus:            bus,
		plans:          plans,
		contextEngine:  engine,
		sessionManager: sessions,
		sseBroadcaster: broadcaster,
		tokenCounter:   tokencount.New(),
		healthServer:   health.NewServer(),
		planWatchers:   make(map[string]*watcher.Watcher),
		router:         chi.NewRouter(),
		ctx:            ctx,
		cancel:         cancel,
		startTime:      time.Now(),
	}
	svc.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)

	instruments, err := metrics.New(
		func() int64 { return int64(sessions.GetTotalQueueDepth()) },
		func() int64 { return int64(broadcaster.ClientCount()) },
	)
	if err != nil {
		log.Error().Err(err).Msg("worker: register metrics instruments, continuing without them")
	}
	svc.instruments = instruments

	broadcaster.SetSnapshotProvider(func() ([]string, bool) {
		rows, err := st.GetDashboardSessions(ctx)
		if err != nil {
			log.Error().Err(err).Msg("worker: snapshot dashboard sessions for SSE connect")
			return nil, sessions.IsAnySessionProcessing()
		}
		seen := make(map[string]struct{}, len(rows))
		projects := make([]string, 0, len(rows))
		for _, row := range rows {
			if _, ok := seen[row.Project]; ok {
				continue
			}
			seen[row.Project] = struct{}{}
			projects = append(projects, row.Project)
		}
		return projects, sessions.IsAnySessionProcessing()
	})

	svc.setupRoutes()
	return svc
}

// Router exposes the configured chi router, e.g. for cmux registration.
func (s *Service) Router() http.Handler { return s.router }

// MarkReady flips the readiness flag GET /health and /api/ready report, and
// flips the gRPC health service's status so a cmux-muxed grpc_health_v1
// probe agrees with the HTTP one.
func (s *Service) MarkReady() {
	s.ready.Store(true)
	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
}

// Shutdown marks the gRPC health service NOT_SERVING, stops every plan
// directory watcher, and cancels the service context (the one the SSE
// snapshot provider queries the store with). It does not close the
// listener; Serve returns when its own ctx is cancelled.
func (s *Service) Shutdown() {
	s.healthServer.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	s.stopPlanWatchers()
	s.cancel()
}

// requestIDMiddleware stamps every request with an X-Request-Id header,
// generating one with google/uuid when the caller didn't supply one.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(w, r)
	})
}

// requireReady rejects requests with 503 until MarkReady has been called,
// so editor hooks firing during daemon startup get a clear retry signal
// instead of a confusing 200 against a half-initialized store.
func (s *Service) requireReady(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			http.Error(w, `{"error":"not ready"}`, http.StatusServiceUnavailable)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// metricsMiddleware records each request's duration against
// memoryd.http.request.duration, tagged with its matched route pattern so
// cardinality stays bounded regardless of path parameters.
func (s *Service) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.instruments == nil {
			next.ServeHTTP(w, r)
			return
		}
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		s.instruments.RecordHTTPDuration(r.Context(), route, ww.Status(), time.Since(start).Seconds())
	})
}

func (s *Service) setupRoutes() {
	r := s.router
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(s.metricsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/version", s.handleVersion)
	r.Get("/api/ready", s.handleReady)
	r.Get("/", serveIndex)
	r.Get("/assets/*", serveAssets)
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.Group(func(r chi.Router) {
		r.Use(s.requireReady)

		r.Post("/api/restart", s.handleRestart)
		r.Get("/stream", s.sseBroadcaster.HandleSSE)
		r.Get("/api/dashboard/sessions", s.handleDashboardSessions)

		r.Post("/api/sessions/observations", s.handleIngestObservation)
		r.Post("/api/sessions/summarize", s.handleIngestSummary)

		r.Get("/api/context/inject", s.handleContextInject)

		r.Get("/api/plans", s.handlePlansList)
		r.Get("/api/plans/active", s.handlePlansActive)
		r.Get("/api/plan", s.handlePlanRead)
		r.Get("/api/plan/content", s.handlePlanContent)
		r.Delete("/api/plan", s.handlePlanDelete)

		r.Post("/api/sessions/{id}/plan", s.handleAssociatePlanByID)
		r.Get("/api/sessions/{id}/plan", s.handleGetPlanByID)
		r.Delete("/api/sessions/{id}/plan", s.handleClearPlanByID)
		r.Put("/api/sessions/{id}/plan/status", s.handleUpdatePlanStatus)
		r.Get("/api/sessions/by-content-id/{cid}/plan", s.handleGetPlanByContentID)
	})
}

// @Summary Liveness and processing snapshot
// @Success 200 {object} map[string]interface{}
// @Router /api/health [get]
func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"version":     s.version,
		"uptime":      time.Since(s.startTime).Seconds(),
		"queueDepth":  s.sessionManager.GetTotalQueueDepth(),
		"processing":  s.sessionManager.IsAnySessionProcessing(),
		"activeCount": s.sessionManager.GetActiveSessionCount(),
	})
}

// @Summary Daemon version
// @Success 200 {object} map[string]string
// @Router /api/version [get]
func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// handleRestart exits the process so a wrapper script (DaemonSupervisor's
// spawnDaemon counterpart) can relaunch a fresh binary; it does not restart
// in-process, since a mismatched version is the one case that needs a new
// process image.
func (s *Service) handleRestart(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "restarting"})
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.Shutdown()
		// SIGTERM reaches runDaemon's signal context, which runs the normal
		// graceful teardown and lets the process exit.
		if p, err := os.FindProcess(os.Getpid()); err == nil {
			_ = p.Signal(syscall.SIGTERM)
		}
	}()
}

// Package main is memoryd's entrypoint: it wires every collaborator, runs
// the HTTP/gRPC surface, and supervises the daemon's background tasks.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/thejerf/suture/v4"
	"golang.org/x/sync/errgroup"

	"github.com/lukaszraczylo/memoryd/internal/config"
	"github.com/lukaszraczylo/memoryd/internal/contextengine"
	"github.com/lukaszraczylo/memoryd/internal/eventbus"
	"github.com/lukaszraczylo/memoryd/internal/planstore"
	"github.com/lukaszraczylo/memoryd/internal/queue"
	"github.com/lukaszraczylo/memoryd/internal/retention"
	"github.com/lukaszraczylo/memoryd/internal/store"
	"github.com/lukaszraczylo/memoryd/internal/supervisor"
	"github.com/lukaszraczylo/memoryd/internal/worker"
	"github.com/lukaszraczylo/memoryd/internal/worker/session"
	"github.com/lukaszraczylo/memoryd/internal/worker/sse"
	"github.com/lukaszraczylo/memoryd/pkg/models"
	"gorm.io/gorm/logger"
)

// Version is set at build time via ldflags.
var Version = "dev"

func main() {
	ensure := flag.Bool("ensure", false, "ensure a compatible daemon is running on WORKER_PORT, spawning one if needed, then exit")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, NoColor: true})

	cfg := config.Load()
	if cfg.LogLevel != "" {
		if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
			zerolog.SetGlobalLevel(lvl)
		}
	}
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	if *ensure {
		runEnsure(cfg)
		return
	}

	if err := config.EnsureDataDir(); err != nil {
		log.Fatal().Err(err).Msg("memoryd: create data directory")
	}

	if err := runDaemon(cfg); err != nil {
		log.Fatal().Err(err).Msg("memoryd: exited with error")
	}
}

// runEnsure is the single-instance entrypoint a launcher (an editor hook
// CLI, an operator's shell alias) invokes before talking to the daemon: it
// probes the configured port and, if nothing compatible answers, spawns a
// fresh instance of this same binary with the -ensure flag dropped.
func runEnsure(cfg *config.DaemonConfig) {
	exe, err := os.Executable()
	if err != nil {
		log.Fatal().Err(err).Msg("memoryd: resolve own executable path")
	}

	deps := supervisor.Deps{
		Healthy:            supervisor.HTTPHealthy,
		CheckVersionMatch:  supervisor.HTTPCheckVersionMatch(Version),
		HTTPShutdown:       supervisor.HTTPShutdown,
		WaitPortFree:       supervisor.WaitPortFree,
		PortInUse:          supervisor.PortInUse,
		SpawnDaemon:        supervisor.SpawnDaemon,
		WritePidFile:       supervisor.WritePidFile(cfg.DataDir),
		RemovePidFile:      supervisor.RemovePidFile(cfg.DataDir),
		GetPlatformTimeout: supervisor.PlatformTimeout,
		Now:                time.Now,
	}

	result := supervisor.EnsureWorker(deps, exe, cfg.WorkerPort)
	if !result.Ready {
		log.Fatal().Err(result.Err).Msg("memoryd: failed to ensure daemon")
	}
	log.Info().Int("port", cfg.WorkerPort).Msg("memoryd: daemon ready")
}

// runDaemon wires every collaborator and serves the HTTP/gRPC surface
// until ctx is cancelled by SIGINT/SIGTERM, then shuts down in reverse
// construction order.
func runDaemon(cfg *config.DaemonConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	dbPath := filepath.Join(cfg.DataDir, "memoryd.db")
	st, err := store.NewStore(store.Config{Path: dbPath, MaxConns: 8, LogLevel: logger.Warn})
	if err != nil {
		return err
	}
	defer st.Close()

	bus := eventbus.New()
	q := queue.New(st.DB(), bus)
	broadcaster := sse.NewBroadcaster()
	plans := planstore.New(st.DB(), func(sessionDBID int64, plan *models.SessionPlan) {
		broadcaster.BroadcastEvent(sse.EventPlanAssociationChange, map[string]interface{}{
			"sessionId": sessionDBID,
			"plan":      plan,
		})
	})
	engine := contextengine.New(st, contextengine.DefaultConfig())
	sessions := session.New(ctx)

	svc := worker.New(Version, cfg, st, q, bus, plans, engine, sessions, broadcaster)

	lis, err := net.Listen("tcp", cfg.ListenAddress())
	if err != nil {
		return err
	}

	sup := suture.NewSimple("memoryd-background")
	sup.Add(idleSweepService{sessions: sessions})
	sup.Add(retentionService{db: st.DB(), policy: retentionPolicy(cfg)})
	supDone := sup.ServeBackground(ctx)

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.Serve(gCtx, lis) })

	svc.MarkReady()
	log.Info().Str("addr", cfg.ListenAddress()).Str("version", Version).Msg("memoryd: daemon ready")

	<-ctx.Done()
	log.Info().Msg("memoryd: shutting down")
	svc.Shutdown()
	sessions.ShutdownAll(context.Background())

	if err := g.Wait(); err != nil && gCtx.Err() == nil {
		log.Error().Err(err).Msg("memoryd: HTTP/gRPC surface exited with error")
	}
	<-supDone

	return nil
}

// retentionPolicy builds a retention.Policy from the loaded config's
// RETENTION_* environment overrides.
func retentionPolicy(cfg *config.DaemonConfig) retention.Policy {
	return retention.Policy{
		Enabled:      cfg.RetentionEnabled,
		MaxAgeDays:   cfg.RetentionMaxAgeDays,
		MaxCount:     cfg.RetentionMaxCount,
		ExcludeTypes: cfg.RetentionExcludeTypes,
		SoftDelete:   cfg.RetentionSoftDelete,
	}
}

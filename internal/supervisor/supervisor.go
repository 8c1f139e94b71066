// Package supervisor implements ensureWorker: the state machine that
// guarantees a compatible daemon is listening on the configured port before
// a caller (a hook CLI, an integration test) proceeds. Every external
// effect is an injected function so the state machine itself is pure and
// unit-testable without a real child process or socket.
package supervisor

import (
	"errors"
	"fmt"
	"time"
)

// healthyProbeTimeout is how long ensureWorker waits for an already-running
// daemon to answer before deciding it needs to cold-start one.
const healthyProbeTimeout = 1 * time.Second

// portInUseProbeTimeout is how long ensureWorker waits for a daemon that
// owns the port (but didn't answer the first health probe) to come up.
const portInUseProbeTimeout = 15 * time.Second

// coldStartProbeTimeout is how long ensureWorker waits for a freshly
// spawned daemon to report healthy.
const coldStartProbeTimeout = 30 * time.Second

// portFreeTimeout bounds how long ensureWorker waits for a shut-down
// mismatched-version daemon to release its port before cold-starting.
const portFreeTimeout = 5 * time.Second

// PidInfo is the JSON shape written to the pid file on a successful spawn.
type PidInfo struct {
	PID       int   `json:"pid"`
	Port      int   `json:"port"`
	StartedAt int64 `json:"startedAt"`
}

// Deps collects every externally observable effect ensureWorker needs.
// Production wiring in cmd/memoryd supplies real HTTP probes and os/exec
// calls; tests supply fakes.
type Deps struct {
	// Healthy reports whether a daemon on port answers GET /api/health
	// within timeout.
	Healthy func(port int, timeout time.Duration) bool
	// CheckVersionMatch reports whether the running daemon's GET
	// /api/version matches this binary's own version.
	CheckVersionMatch func(port int) bool
	// HTTPShutdown asks a running daemon to exit via POST /api/restart.
	HTTPShutdown func(port int) error
	// WaitPortFree blocks until port is no longer bound, or timeout elapses.
	WaitPortFree func(port int, timeout time.Duration) bool
	// PortInUse reports whether something is already listening on port.
	PortInUse func(port int) bool
	// SpawnDaemon launches a fresh daemon process bound to port, returning
	// its pid.
	SpawnDaemon func(script string, port int) (pid int, err error)
	// WritePidFile persists info so a later run (or a cleanup path) can
	// find the spawned process.
	WritePidFile func(info PidInfo) error
	// RemovePidFile deletes the pid file written by a prior spawn.
	RemovePidFile func() error
	// GetPlatformTimeout scales base for the current platform (slower CI
	// runners, emulated architectures, etc).
	GetPlatformTimeout func(base time.Duration) time.Duration
	// Now returns the current time; overridable so pid-file timestamps are
	// deterministic in tests.
	Now func() time.Time
}

// Result is ensureWorker's outcome: exactly one of Ready or Err is set.
type Result struct {
	Ready bool
	Err   error
}

// EnsureWorker runs the state machine documented in spec.md §4.9: probe the
// port for a healthy, version-matching daemon; if one is healthy but a
// different version, restart it cleanly; if the port is occupied by
// something unresponsive, fail; otherwise cold-start.
func EnsureWorker(deps Deps, script string, port int) Result {
	deps = withDefaults(deps)

	if deps.Healthy(port, deps.GetPlatformTimeout(healthyProbeTimeout)) {
		if deps.CheckVersionMatch(port) {
			return Result{Ready: true}
		}
		return restartMismatched(deps, script, port)
	}

	if deps.PortInUse(port) {
		if deps.Healthy(port, deps.GetPlatformTimeout(portInUseProbeTimeout)) {
			return Result{Ready: true}
		}
		return Result{Err: errors.New("supervisor: port in use but worker not responding")}
	}

	return coldStart(deps, script, port)
}

// restartMismatched shuts down a healthy-but-wrong-version daemon and
// cold-starts a replacement. A different running version is a restart
// signal, not a failure — spec.md §4.9 explicitly carves this out of the
// error surface.
func restartMismatched(deps Deps, script string, port int) Result {
	_ = deps.HTTPShutdown(port)
	deps.WaitPortFree(port, deps.GetPlatformTimeout(portFreeTimeout))
	_ = deps.RemovePidFile()
	return coldStart(deps, script, port)
}

func coldStart(deps Deps, script string, port int) Result {
	pid, err := deps.SpawnDaemon(script, port)
	if err != nil || pid == 0 {
		return Result{Err: fmt.Errorf("supervisor: failed to spawn: %w", err)}
	}

	if err := deps.WritePidFile(PidInfo{PID: pid, Port: port, StartedAt: deps.Now().UnixMilli()}); err != nil {
		return Result{Err: fmt.Errorf("supervisor: failed to write pid file: %w", err)}
	}

	if deps.Healthy(port, deps.GetPlatformTimeout(coldStartProbeTimeout)) {
		return Result{Ready: true}
	}

	_ = deps.RemovePidFile()
	return Result{Err: errors.New("supervisor: health check timeout")}
}

// withDefaults fills GetPlatformTimeout/Now when the caller left them nil,
// so tests that don't care about platform scaling or wall-clock time don't
// have to stub them.
func withDefaults(deps Deps) Deps {
	if deps.GetPlatformTimeout == nil {
		deps.GetPlatformTimeout = func(base time.Duration) time.Duration { return base }
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return deps
}

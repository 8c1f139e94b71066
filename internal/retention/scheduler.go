// Package retention implements bounded, periodic pruning of observations
// and summaries: age- and count-bounded, policy-driven, logged-not-fatal.
package retention

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const (
	startupDelay = 30 * time.Second
	period       = 24 * time.Hour
)

// Policy governs one pruning run.
type Policy struct {
	Enabled      bool
	MaxAgeDays   int
	MaxCount     int
	ExcludeTypes []string
	SoftDelete   bool
}

// Scheduler owns the two timers (startup delay, then periodic cadence)
// that drive retention runs. start is idempotent: a second call stops the
// first instance's timers before starting its own, using a generation
// counter so a timer fired by a stale instance becomes a no-op rather than
// running a duplicate pass.
type Scheduler struct {
	mu            sync.Mutex
	generation    int
	startupTimer  *time.Timer
	periodicTimer *time.Timer

	db     *gorm.DB
	policy Policy
}

// New constructs a Scheduler over db. Call Start to begin the timer chain.
func New(db *gorm.DB) *Scheduler {
	return &Scheduler{db: db}
}

// Start begins the startup-delay-then-periodic timer chain against policy.
// Calling Start again (e.g. after a policy reload) stops the previous
// chain first, so at most one chain of timers is ever live.
func (s *Scheduler) Start(policy Policy) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.generation++
	gen := s.generation
	s.policy = policy
	s.stopLocked()

	s.startupTimer = time.AfterFunc(startupDelay, func() { s.fire(gen) })
}

// Stop clears both timers. Safe to call when not started.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.generation++
	s.stopLocked()
}

func (s *Scheduler) stopLocked() {
	if s.startupTimer != nil {
		s.startupTimer.Stop()
		s.startupTimer = nil
	}
	if s.periodicTimer != nil {
		s.periodicTimer.Stop()
		s.periodicTimer = nil
	}
}

// fire runs one pass if gen is still the current generation, then
// reschedules the next periodic fire under the same check.
func (s *Scheduler) fire(gen int) {
	s.mu.Lock()
	if gen != s.generation {
		s.mu.Unlock()
		return
	}
	policy := s.policy
	s.mu.Unlock()

	if err := s.RunOnce(context.Background(), policy); err != nil {
		log.Error().Err(err).Msg("retention: run failed")
	}

	s.mu.Lock()
	if gen == s.generation {
		s.periodicTimer = time.AfterFunc(period, func() { s.fire(gen) })
	}
	s.mu.Unlock()
}

// RunOnce executes a single pruning pass. A disabled policy is a no-op.
// Errors are returned to the caller (fire logs them). Observations are
// pruned first; an error there returns before summaries are pruned.
func (s *Scheduler) RunOnce(ctx context.Context, policy Policy) error {
	if !policy.Enabled {
		return nil
	}

	if err := pruneObservations(ctx, s.db, policy); err != nil {
		return err
	}
	return pruneSummaries(ctx, s.db, policy)
}

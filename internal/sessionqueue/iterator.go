// Package sessionqueue turns durable queue rows into a cooperative,
// cancellable lazy sequence of messages for one session. It is the
// component that decides when a worker goroutine should wake, claim, and
// when it should give up and exit.
package sessionqueue

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lukaszraczylo/memoryd/internal/eventbus"
	"github.com/lukaszraczylo/memoryd/internal/queue"
	"github.com/lukaszraczylo/memoryd/pkg/models"
)

// State is one position in the iterator's testable state machine.
// Initial state is Draining; terminal states are Cancelled and IdleExit.
type State int

const (
	Draining State = iota
	Parked
	Cancelled
	IdleExit
)

func (s State) String() string {
	switch s {
	case Draining:
		return "Draining"
	case Parked:
		return "Parked"
	case Cancelled:
		return "Cancelled"
	case IdleExit:
		return "IdleExit"
	default:
		return "Unknown"
	}
}

const (
	defaultIdleTimeout  = 180 * time.Second
	defaultMaxBatchSize = 10
	claimRetryDelay     = time.Second
)

// Config configures one Iterator. SessionDBID and a cancellable Context
// are required; the rest have spec-mandated defaults.
type Config struct {
	SessionDBID   int64
	Context       context.Context
	IdleTimeout   time.Duration
	OnIdleTimeout func()
	MaxBatchSize  int
}

// Iterator yields durable queue rows for one session, one claim at a time,
// parking between claims until woken by the shared event bus, cancelled,
// or idle for IdleTimeout.
type Iterator struct {
	cfg          Config
	q            *queue.Queue
	bus          *eventbus.Bus
	lastActivity time.Time
	state        State
}

// NewIterator constructs an Iterator with spec defaults applied for any
// zero-valued Config field.
func NewIterator(cfg Config, q *queue.Queue, bus *eventbus.Bus) *Iterator {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = defaultMaxBatchSize
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	return &Iterator{
		cfg:          cfg,
		q:            q,
		bus:          bus,
		lastActivity: time.Now(),
		state:        Draining,
	}
}

// State reports the iterator's current position in its state machine.
func (it *Iterator) State() State { return it.state }

// Next blocks until a non-empty batch of messages is available, the
// iterator is cancelled, or it has been idle for IdleTimeout. The second
// return value is false exactly when the iterator has reached a terminal
// state and will never yield again.
func (it *Iterator) Next() ([]models.PendingMessage, bool) {
	for {
		if it.cfg.Context.Err() != nil {
			it.state = Cancelled
			return nil, false
		}

		rows, err := it.q.ClaimAndDeleteBatch(it.cfg.Context, it.cfg.SessionDBID, it.cfg.MaxBatchSize)
		if err != nil {
			if errors.Is(it.cfg.Context.Err(), context.Canceled) {
				it.state = Cancelled
				return nil, false
			}
			log.Error().Err(err).Int64("session_db_id", it.cfg.SessionDBID).Msg("session queue: claim failed, retrying")
			if !it.sleepOrCancel(claimRetryDelay) {
				it.state = Cancelled
				return nil, false
			}
			continue
		}

		if len(rows) > 0 {
			it.state = Draining
			it.lastActivity = time.Now()
			return rows, true
		}

		yielded, terminal := it.park()
		if terminal {
			return nil, false
		}
		if yielded {
			continue
		}
	}
}

// park waits for a notification, cancellation, or idle timeout, whichever
// comes first. terminal is true iff the caller should stop iterating.
func (it *Iterator) park() (notified bool, terminal bool) {
	it.state = Parked
	ch := it.bus.Subscribe()

	remaining := it.cfg.IdleTimeout - time.Since(it.lastActivity)
	if remaining <= 0 {
		it.triggerIdleExit()
		return false, true
	}

	timer := time.NewTimer(remaining)
	defer timer.Stop()

	select {
	case <-ch:
		return true, false
	case <-it.cfg.Context.Done():
		it.state = Cancelled
		return false, true
	case <-timer.C:
		it.triggerIdleExit()
		return false, true
	}
}

func (it *Iterator) triggerIdleExit() {
	it.state = IdleExit
	if it.cfg.OnIdleTimeout != nil {
		it.cfg.OnIdleTimeout()
	}
}

// sleepOrCancel sleeps for d, returning false if the context is cancelled
// first.
func (it *Iterator) sleepOrCancel(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-it.cfg.Context.Done():
		return false
	}
}

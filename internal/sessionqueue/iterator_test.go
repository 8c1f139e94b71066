package sessionqueue

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm/logger"

	"github.com/lukaszraczylo/memoryd/internal/eventbus"
	"github.com/lukaszraczylo/memoryd/internal/queue"
	"github.com/lukaszraczylo/memoryd/internal/store"
)

func newTestQueue(t *testing.T) (*queue.Queue, *eventbus.Bus) {
	t.Helper()
	s, err := store.NewStore(store.Config{Path: filepath.Join(t.TempDir(), "t.db"), LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	bus := eventbus.New()
	return queue.New(s.DB(), bus), bus
}

func TestIteratorDrainsAvailableRows(t *testing.T) {
	q, bus := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := q.Enqueue(ctx, 1, map[string]string{"tool": "Read"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	it := NewIterator(Config{SessionDBID: 1, Context: ctx}, q, bus)
	rows, ok := it.Next()
	if !ok {
		t.Fatal("expected ok=true")
	}
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	if it.State() != Draining {
		t.Errorf("expected Draining state, got %s", it.State())
	}
}

func TestIteratorWakesOnNotify(t *testing.T) {
	q, bus := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	it := NewIterator(Config{SessionDBID: 1, Context: ctx, IdleTimeout: time.Minute}, q, bus)

	done := make(chan []byte)
	go func() {
		rows, ok := it.Next()
		if ok && len(rows) > 0 {
			done <- rows[0].Payload
		} else {
			done <- nil
		}
	}()

	// Give the iterator a moment to park before enqueueing.
	time.Sleep(50 * time.Millisecond)
	if err := q.Enqueue(ctx, 1, map[string]string{"tool": "Write"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case payload := <-done:
		if payload == nil {
			t.Error("expected a claimed payload after notify")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for iterator to wake on notify")
	}
}

func TestIteratorCancellationReturnsFalse(t *testing.T) {
	q, bus := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())

	it := NewIterator(Config{SessionDBID: 1, Context: ctx, IdleTimeout: time.Minute}, q, bus)

	done := make(chan bool)
	go func() {
		_, ok := it.Next()
		done <- ok
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case ok := <-done:
		if ok {
			t.Error("expected ok=false after cancellation")
		}
		if it.State() != Cancelled {
			t.Errorf("expected Cancelled state, got %s", it.State())
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for cancellation to unblock Next")
	}
}

func TestIteratorIdleTimeoutInvokesCallback(t *testing.T) {
	q, bus := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var idleFired bool
	it := NewIterator(Config{
		SessionDBID: 1,
		Context:     ctx,
		IdleTimeout: 20 * time.Millisecond,
		OnIdleTimeout: func() {
			idleFired = true
		},
	}, q, bus)

	_, ok := it.Next()
	if ok {
		t.Error("expected ok=false on idle exit")
	}
	if it.State() != IdleExit {
		t.Errorf("expected IdleExit state, got %s", it.State())
	}
	if !idleFired {
		t.Error("expected OnIdleTimeout to be invoked")
	}
}

func TestIteratorBatchSizeRespected(t *testing.T) {
	q, bus := newTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 0; i < 5; i++ {
		if err := q.Enqueue(ctx, 1, map[string]int{"i": i}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	it := NewIterator(Config{SessionDBID: 1, Context: ctx, MaxBatchSize: 2}, q, bus)
	rows, ok := it.Next()
	if !ok || len(rows) != 2 {
		t.Fatalf("expected a batch of 2, got ok=%v len=%d", ok, len(rows))
	}
}

func TestIteratorInitialStateIsDraining(t *testing.T) {
	q, bus := newTestQueue(t)
	ctx := context.Background()
	it := NewIterator(Config{SessionDBID: 1, Context: ctx}, q, bus)
	if it.State() != Draining {
		t.Errorf("expected initial state Draining, got %s", it.State())
	}
}

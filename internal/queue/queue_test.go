package queue

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm/logger"

	"github.com/lukaszraczylo/memoryd/internal/eventbus"
	"github.com/lukaszraczylo/memoryd/internal/store"
	"github.com/lukaszraczylo/memoryd/pkg/models"
)

func newTestQueue(t *testing.T) (*Queue, *store.Store) {
	t.Helper()
	s, err := store.NewStore(store.Config{
		Path:     filepath.Join(t.TempDir(), "test.db"),
		LogLevel: logger.Silent,
	})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return New(s.DB(), eventbus.New()), s
}

type payload struct {
	Tool string `json:"tool"`
}

func TestEnqueueAndClaim(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, 1, payload{Tool: "Read"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	msg, err := q.ClaimAndDelete(ctx, 1)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if msg == nil {
		t.Fatal("expected a claimed message, got nil")
	}

	var p payload
	if err := DecodePayload(*msg, &p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Tool != "Read" {
		t.Errorf("expected tool Read, got %q", p.Tool)
	}

	again, err := q.ClaimAndDelete(ctx, 1)
	if err != nil {
		t.Fatalf("second claim: %v", err)
	}
	if again != nil {
		t.Errorf("expected queue to be empty, got %+v", again)
	}
}

func TestClaimAndDeleteBatchOrdering(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, 1, payload{Tool: "step"}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}

	batch, err := q.ClaimAndDeleteBatch(ctx, 1, 2)
	if err != nil {
		t.Fatalf("claim batch: %v", err)
	}
	if len(batch) != 2 {
		t.Fatalf("expected 2 claimed, got %d", len(batch))
	}

	depth, err := q.Depth(ctx, 1)
	if err != nil {
		t.Fatalf("depth: %v", err)
	}
	if depth != 1 {
		t.Errorf("expected 1 remaining, got %d", depth)
	}
}

func TestClaimAndDeleteIsExclusiveUnderConcurrency(t *testing.T) {
	q, _ := newTestQueue(t)
	ctx := context.Background()

	if err := q.Enqueue(ctx, 1, payload{Tool: "only"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	var wins int

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			msg, err := q.ClaimAndDelete(ctx, 1)
			if err != nil {
				t.Errorf("claim: %v", err)
				return
			}
			if msg != nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if wins != 1 {
		t.Errorf("expected exactly one successful claim, got %d", wins)
	}
}

func TestEnqueueNotifiesBus(t *testing.T) {
	s, err := store.NewStore(store.Config{Path: filepath.Join(t.TempDir(), "t.db"), LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	defer s.Close()

	bus := eventbus.New()
	q := New(s.DB(), bus)

	ch := bus.Subscribe()

	if err := q.Enqueue(context.Background(), 1, payload{Tool: "notify"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Error("expected subscriber to be woken by enqueue")
	}
}

func TestDecodePayloadCorruption(t *testing.T) {
	msg := models.PendingMessage{ID: 1, Payload: []byte("not json")}
	var dst payload
	if err := DecodePayload(msg, &dst); err == nil {
		t.Error("expected decode error for malformed payload")
	} else if !errors.Is(err, ErrCorruptPayload) {
		t.Errorf("expected ErrCorruptPayload, got %v", err)
	}
}

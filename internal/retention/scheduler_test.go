package retention

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"gorm.io/gorm/logger"

	"github.com/lukaszraczylo/memoryd/internal/store"
	"github.com/lukaszraczylo/memoryd/pkg/models"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.NewStore(store.Config{Path: filepath.Join(t.TempDir(), "test.db"), LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insertObservationAt(t *testing.T, s *store.Store, project string, typ models.ObservationType, epoch int64) int64 {
	t.Helper()
	row := &store.Observation{
		MemorySessionID: "mem-1",
		Project:         project,
		Type:            typ,
		CreatedAtEpoch:  epoch,
		CreatedAt:       time.UnixMilli(epoch).Format(time.RFC3339),
	}
	if err := s.DB().Create(row).Error; err != nil {
		t.Fatalf("insert observation: %v", err)
	}
	return row.ID
}

func insertSummaryAt(t *testing.T, s *store.Store, project string, epoch int64) int64 {
	t.Helper()
	row := &store.SessionSummary{
		MemorySessionID: "mem-1",
		Project:         project,
		CreatedAtEpoch:  epoch,
		CreatedAt:       time.UnixMilli(epoch).Format(time.RFC3339),
	}
	if err := s.DB().Create(row).Error; err != nil {
		t.Fatalf("insert summary: %v", err)
	}
	return row.ID
}

func countObservations(t *testing.T, s *store.Store, where string, args ...interface{}) int64 {
	t.Helper()
	var n int64
	q := s.DB().Model(&store.Observation{})
	if where != "" {
		q = q.Where(where, args...)
	}
	if err := q.Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestRunOnceDisabledPolicyIsNoop(t *testing.T) {
	s := newTestStore(t)
	now := time.Now().UnixMilli()
	insertObservationAt(t, s, "proj", models.ObsTypeBugfix, now-1000*int64(time.Hour/time.Millisecond))

	sched := New(s.DB())
	if err := sched.RunOnce(context.Background(), Policy{Enabled: false, MaxAgeDays: 1}); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if n := countObservations(t, s, ""); n != 1 {
		t.Errorf("expected row to survive disabled policy, got count %d", n)
	}
}

func TestRunOnceAgeBoundHardDeletes(t *testing.T) {
	s := newTestStore(t)
	now := time.Now()
	old := now.AddDate(0, 0, -40).UnixMilli()
	recent := now.AddDate(0, 0, -1).UnixMilli()
	insertObservationAt(t, s, "proj", models.ObsTypeBugfix, old)
	insertObservationAt(t, s, "proj", models.ObsTypeBugfix, recent)

	sched := New(s.DB())
	if err := sched.RunOnce(context.Background(), Policy{Enabled: true, MaxAgeDays: 30}); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if n := countObservations(t, s, ""); n != 1 {
		t.Fatalf("expected 1 surviving row, got %d", n)
	}
	if n := countObservations(t, s, "created_at_epoch = ?", recent); n != 1 {
		t.Errorf("expected the recent row specifically to survive")
	}
}

func TestRunOnceAgeBoundSoftDeleteMarksInsteadOfRemoving(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().AddDate(0, 0, -40).UnixMilli()
	insertObservationAt(t, s, "proj", models.ObsTypeBugfix, old)

	sched := New(s.DB())
	if err := sched.RunOnce(context.Background(), Policy{Enabled: true, MaxAgeDays: 30, SoftDelete: true}); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var row store.Observation
	if err := s.DB().Unscoped().First(&row).Error; err != nil {
		t.Fatalf("expected row to still physically exist: %v", err)
	}
	if !row.Deleted {
		t.Errorf("expected row marked deleted, got Deleted=false")
	}
	if n := countObservations(t, s, "deleted = ?", false); n != 0 {
		t.Errorf("expected soft-deleted row excluded from active count, got %d", n)
	}
}

func TestRunOnceExcludeTypesExemptsMatchingRows(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().AddDate(0, 0, -40).UnixMilli()
	insertObservationAt(t, s, "proj", models.ObsTypeDecision, old)
	insertObservationAt(t, s, "proj", models.ObsTypeBugfix, old)

	sched := New(s.DB())
	policy := Policy{Enabled: true, MaxAgeDays: 30, ExcludeTypes: []string{string(models.ObsTypeDecision)}}
	if err := sched.RunOnce(context.Background(), policy); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if n := countObservations(t, s, ""); n != 1 {
		t.Fatalf("expected only the excluded-type row to survive, got %d rows", n)
	}
	if n := countObservations(t, s, "type = ?", models.ObsTypeDecision); n != 1 {
		t.Errorf("expected the decision row specifically to survive")
	}
}

func TestRunOnceCountBoundPrunesOldestFirst(t *testing.T) {
	s := newTestStore(t)
	base := time.Now().UnixMilli()
	var ids []int64
	for i := 0; i < 5; i++ {
		ids = append(ids, insertObservationAt(t, s, "proj", models.ObsTypeBugfix, base+int64(i)*1000))
	}

	sched := New(s.DB())
	if err := sched.RunOnce(context.Background(), Policy{Enabled: true, MaxCount: 3}); err != nil {
		t.Fatalf("run once: %v", err)
	}

	if n := countObservations(t, s, ""); n != 3 {
		t.Fatalf("expected 3 surviving rows, got %d", n)
	}
	for _, id := range ids[:2] {
		if n := countObservations(t, s, "id = ?", id); n != 0 {
			t.Errorf("expected oldest row %d to be pruned", id)
		}
	}
	for _, id := range ids[2:] {
		if n := countObservations(t, s, "id = ?", id); n != 1 {
			t.Errorf("expected newer row %d to survive", id)
		}
	}
}

func TestRunOnceSummariesPrunedByAge(t *testing.T) {
	s := newTestStore(t)
	old := time.Now().AddDate(0, 0, -40).UnixMilli()
	recent := time.Now().AddDate(0, 0, -1).UnixMilli()
	insertSummaryAt(t, s, "proj", old)
	insertSummaryAt(t, s, "proj", recent)

	sched := New(s.DB())
	if err := sched.RunOnce(context.Background(), Policy{Enabled: true, MaxAgeDays: 30}); err != nil {
		t.Fatalf("run once: %v", err)
	}

	var n int64
	if err := s.DB().Model(&store.SessionSummary{}).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 surviving summary, got %d", n)
	}
}

func TestStartIsIdempotentAcrossGenerations(t *testing.T) {
	s := newTestStore(t)
	sched := New(s.DB())

	sched.Start(Policy{Enabled: true})
	first := sched.generation
	firstTimer := sched.startupTimer

	sched.Start(Policy{Enabled: true})
	second := sched.generation

	if second == first {
		t.Errorf("expected generation to advance on second Start, stayed at %d", first)
	}
	if sched.startupTimer == firstTimer {
		t.Errorf("expected a fresh startup timer on second Start")
	}

	sched.Stop()
}

func TestStopClearsTimersAndIsSafeWhenNotStarted(t *testing.T) {
	s := newTestStore(t)
	sched := New(s.DB())

	sched.Stop() // not started yet; must not panic

	sched.Start(Policy{Enabled: true})
	sched.Stop()

	if sched.startupTimer != nil || sched.periodicTimer != nil {
		t.Errorf("expected both timers cleared after Stop")
	}
}

func TestStaleGenerationFireIsANoop(t *testing.T) {
	s := newTestStore(t)
	insertObservationAt(t, s, "proj", models.ObsTypeBugfix, time.Now().AddDate(0, 0, -40).UnixMilli())

	sched := New(s.DB())
	sched.policy = Policy{Enabled: true, MaxAgeDays: 30}
	staleGen := sched.generation

	sched.generation++ // simulate a Start/Stop cycle racing the stale fire

	sched.fire(staleGen)

	if n := countObservations(t, s, ""); n != 1 {
		t.Errorf("expected stale-generation fire to skip pruning, got count %d", n)
	}
}

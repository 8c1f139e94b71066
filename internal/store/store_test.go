package store

import (
	"context"
	"path/filepath"
	"testing"

	"gorm.io/gorm/logger"

	"github.com/lukaszraczylo/memoryd/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := NewStore(Config{Path: dbPath, MaxConns: 4, LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNewStore(t *testing.T) {
	s := newTestStore(t)

	if err := s.Ping(); err != nil {
		t.Fatalf("ping failed: %v", err)
	}

	var journalMode string
	if err := s.DB().Raw("PRAGMA journal_mode").Scan(&journalMode).Error; err != nil {
		t.Fatalf("query journal_mode: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("expected WAL mode, got %q", journalMode)
	}

	for _, table := range []string{
		"sdk_sessions", "observations", "session_summaries",
		"user_prompts", "pending_messages", "session_plans",
	} {
		if !s.DB().Migrator().HasTable(table) {
			t.Errorf("table %q does not exist", table)
		}
	}
}

func TestMigrationIdempotency(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s1, err := NewStore(Config{Path: dbPath, LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := s1.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	s2, err := NewStore(Config{Path: dbPath, LogLevel: logger.Silent})
	if err != nil {
		t.Fatalf("second open (idempotent migrate): %v", err)
	}
	defer s2.Close()
}

func TestCreateSession_IdempotentOnDuplicate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id1, err := s.CreateSession(ctx, "content-abc", "proj", "hello")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	id2, err := s.CreateSession(ctx, "content-abc", "proj", "hello again")
	if err != nil {
		t.Fatalf("create duplicate: %v", err)
	}

	if id1 != id2 {
		t.Errorf("expected duplicate create to return existing id %d, got %d", id1, id2)
	}
}

func TestUpdateMemorySessionID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "content-xyz", "proj", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := s.UpdateMemorySessionID(ctx, id, "mem-1"); err != nil {
		t.Fatalf("update memory id: %v", err)
	}

	var row SDKSession
	if err := s.DB().First(&row, id).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !row.MemorySessionID.Valid || row.MemorySessionID.String != "mem-1" {
		t.Errorf("expected memory_session_id=mem-1, got %+v", row.MemorySessionID)
	}
}

func TestDeleteSessionCascadesPlan(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.CreateSession(ctx, "content-cascade", "proj", "")
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	plan := &SessionPlan{SessionDBID: id, PlanPath: "docs/plans/a.md", PlanStatus: string(models.PlanStatusPending)}
	if err := s.DB().Create(plan).Error; err != nil {
		t.Fatalf("create plan: %v", err)
	}

	if err := s.DeleteSessionCascade(ctx, id); err != nil {
		t.Fatalf("delete session: %v", err)
	}

	var count int64
	if err := s.DB().Model(&SessionPlan{}).Where("session_db_id = ?", id).Count(&count).Error; err != nil {
		t.Fatalf("count plans: %v", err)
	}
	if count != 0 {
		t.Errorf("expected plan association to be cascaded away, found %d rows", count)
	}
}

func TestPaginateObservations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		obs := models.NewObservation("mem-1", "proj", &models.ParsedObservation{
			Type:  models.ObsTypeDiscovery,
			Title: "obs",
		}, 0)
		if _, err := s.InsertObservation(ctx, obs); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	page, err := s.PaginateObservations(ctx, "proj", 0, 3)
	if err != nil {
		t.Fatalf("paginate: %v", err)
	}
	if len(page.Items) != 3 {
		t.Errorf("expected 3 items, got %d", len(page.Items))
	}
	if !page.HasMore {
		t.Error("expected HasMore=true")
	}

	page2, err := s.PaginateObservations(ctx, "proj", 3, 3)
	if err != nil {
		t.Fatalf("paginate page2: %v", err)
	}
	if len(page2.Items) != 2 {
		t.Errorf("expected 2 items on last page, got %d", len(page2.Items))
	}
	if page2.HasMore {
		t.Error("expected HasMore=false on last page")
	}
}

func TestSanitizeProjectPaths(t *testing.T) {
	paths := []string{"/home/user/code/myproj/internal/foo.go", "relative/path.go"}
	got := SanitizeProjectPaths("myproj", paths)
	if got[0] != "internal/foo.go" {
		t.Errorf("expected prefix stripped, got %q", got[0])
	}
	if got[1] != "relative/path.go" {
		t.Errorf("expected unmatched path unchanged, got %q", got[1])
	}
}

func TestGetDashboardSessions_OnlyActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	activeID, err := s.CreateSession(ctx, "active-1", "proj", "")
	if err != nil {
		t.Fatalf("create active: %v", err)
	}
	completedID, err := s.CreateSession(ctx, "completed-1", "proj", "")
	if err != nil {
		t.Fatalf("create completed: %v", err)
	}
	if err := s.DB().Model(&SDKSession{}).Where("id = ?", completedID).Update("status", string(models.SessionStatusCompleted)).Error; err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	rows, err := s.GetDashboardSessions(ctx)
	if err != nil {
		t.Fatalf("dashboard sessions: %v", err)
	}
	if len(rows) != 1 || rows[0].SessionDBID != activeID {
		t.Errorf("expected only the active session, got %+v", rows)
	}
}

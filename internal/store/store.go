package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	_ "modernc.org/sqlite"

	"github.com/lukaszraczylo/memoryd/pkg/models"
)

// Store is the single-writer SQLite-backed store. Connections come from a
// pool of up to Config.MaxConns; SQLite admits one writer at a time
// (busy_timeout makes a second writer wait), and WAL mode lets readers
// proceed alongside it.
type Store struct {
	db    *gorm.DB
	sqlDB *sql.DB
}

// Config holds database configuration.
type Config struct {
	Path     string
	MaxConns int
	LogLevel logger.LogLevel
}

// NewStore opens the database, applies pragmas, and runs migrations.
func NewStore(cfg Config) (*Store, error) {
	// foreign_keys, synchronous, and busy_timeout are per-connection session
	// settings in SQLite, not persisted to the database file the way
	// journal_mode=WAL is. Setting them via a post-open Exec only reaches
	// whichever single pooled connection happens to run it; every other
	// connection modernc.org/sqlite opens for the pool silently falls back
	// to foreign_keys=OFF, defeating ON DELETE CASCADE. DSN _pragma params
	// are applied by the driver to every new connection it opens.
	dsn := cfg.Path + "?_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db, err := gorm.Open(sqlite.Dialector{Conn: sqlDB}, &gorm.Config{
		Logger:      logger.Default.LogMode(cfg.LogLevel),
		PrepareStmt: true,
		NowFunc:     nil,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}

	maxConns := cfg.MaxConns
	if maxConns <= 0 {
		maxConns = 4
	}
	sqlDB.SetMaxOpenConns(maxConns)
	sqlDB.SetMaxIdleConns(maxConns)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db, sqlDB); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	// journal_mode is persisted to the database file itself, so a single
	// post-open Exec (unlike the per-connection pragmas above) is enough.
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("set pragma journal_mode: %w", err)
	}

	return &Store{db: db, sqlDB: sqlDB}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error { return s.sqlDB.Close() }

// Ping verifies the database connection is alive.
func (s *Store) Ping() error { return s.sqlDB.Ping() }

// DB returns the GORM handle for callers in this package's sibling
// components (queue, planstore, contextengine, retention).
func (s *Store) DB() *gorm.DB { return s.db }

// RawDB returns the underlying *sql.DB for operations GORM can't express.
func (s *Store) RawDB() *sql.DB { return s.sqlDB }

// CreateSession creates a session if contentSessionID hasn't been seen
// before, returning its numeric id either way.
func (s *Store) CreateSession(ctx context.Context, contentSessionID, project, initialPrompt string) (int64, error) {
	var existing SDKSession
	err := s.db.WithContext(ctx).Where("content_session_id = ?", contentSessionID).First(&existing).Error
	if err == nil {
		return existing.ID, nil
	}
	if err != gorm.ErrRecordNotFound {
		return 0, err
	}

	now := time.Now()
	row := &SDKSession{
		ContentSessionID: contentSessionID,
		Project:          project,
		UserPrompt:       sql.NullString{String: initialPrompt, Valid: initialPrompt != ""},
		Status:           string(models.SessionStatusActive),
		StartedAt:        now.Format(time.RFC3339),
		StartedAtEpoch:   now.UnixMilli(),
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		// Another writer may have raced us on the unique index.
		var raced SDKSession
		if raceErr := s.db.WithContext(ctx).Where("content_session_id = ?", contentSessionID).First(&raced).Error; raceErr == nil {
			return raced.ID, nil
		}
		return 0, err
	}
	return row.ID, nil
}

// UpdateMemorySessionID rewrites the foreign key that observations and
// summaries join against. Must run in the same transaction as the first
// observation/summary insert that references the new id, or an interrupted
// remap can orphan rows; callers that need that guarantee should use
// WithTx instead of calling this directly.
func (s *Store) UpdateMemorySessionID(ctx context.Context, sessionDBID int64, newMemoryID string) error {
	return s.db.WithContext(ctx).
		Model(&SDKSession{}).
		Where("id = ?", sessionDBID).
		Update("memory_session_id", newMemoryID).Error
}

// WithTx runs fn inside a single database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(fn)
}

// PaginatedResult is the {items, hasMore} shape returned by Paginate.
type PaginatedResult[T any] struct {
	Items   []T
	HasMore bool
}

// paginateQuery applies a LIMIT N+1 probe to query, reporting whether a
// further page exists without a second COUNT query.
func paginateQuery[T any](query *gorm.DB, offset, limit int) (PaginatedResult[T], error) {
	var rows []T
	if err := query.Offset(offset).Limit(limit + 1).Find(&rows).Error; err != nil {
		return PaginatedResult[T]{}, err
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return PaginatedResult[T]{Items: rows, HasMore: hasMore}, nil
}

// PaginateObservations pages through observations for a project, newest first.
func (s *Store) PaginateObservations(ctx context.Context, project string, offset, limit int) (PaginatedResult[Observation], error) {
	q := s.db.WithContext(ctx).Model(&Observation{}).Order("created_at_epoch DESC")
	if project != "" {
		q = q.Where("project = ?", project)
	}
	return paginateQuery[Observation](q, offset, limit)
}

// PaginateSummaries pages through summaries for a project, newest first.
func (s *Store) PaginateSummaries(ctx context.Context, project string, offset, limit int) (PaginatedResult[SessionSummary], error) {
	q := s.db.WithContext(ctx).Model(&SessionSummary{}).Order("created_at_epoch DESC")
	if project != "" {
		q = q.Where("project = ?", project)
	}
	return paginateQuery[SessionSummary](q, offset, limit)
}

// GetDashboardSessions returns active sessions left-joined with their plan
// association, ordered by start time descending.
func (s *Store) GetDashboardSessions(ctx context.Context) ([]models.DashboardSession, error) {
	var rows []struct {
		SessionDBID      int64
		ContentSessionID string
		Project          string
		Status           string
		StartedAtEpoch   int64
		PlanPath         sql.NullString
		PlanStatus       sql.NullString
	}

	err := s.db.WithContext(ctx).
		Table("sdk_sessions").
		Select(`sdk_sessions.id AS session_db_id, sdk_sessions.content_session_id, sdk_sessions.project,
			sdk_sessions.status, sdk_sessions.started_at_epoch,
			session_plans.plan_path, session_plans.plan_status`).
		Joins("LEFT JOIN session_plans ON session_plans.session_db_id = sdk_sessions.id").
		Where("sdk_sessions.status = ?", string(models.SessionStatusActive)).
		Order("sdk_sessions.started_at_epoch DESC").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}

	out := make([]models.DashboardSession, 0, len(rows))
	for _, r := range rows {
		d := models.DashboardSession{
			SessionDBID:      r.SessionDBID,
			ContentSessionID: r.ContentSessionID,
			Project:          r.Project,
			Status:           r.Status,
			StartedAtEpoch:   r.StartedAtEpoch,
		}
		if r.PlanPath.Valid {
			d.PlanPath = r.PlanPath.String
		}
		if r.PlanStatus.Valid {
			d.PlanStatus = r.PlanStatus.String
		}
		out = append(out, d)
	}
	return out, nil
}

// DeleteSessionCascade removes a session and (via the FK constraint) its
// plan association. Observations/summaries/prompts are keyed by memory id
// rather than the numeric session id and are left to the retention
// scheduler, per the append-only lifecycle.
func (s *Store) DeleteSessionCascade(ctx context.Context, sessionDBID int64) error {
	return s.db.WithContext(ctx).Delete(&SDKSession{}, sessionDBID).Error
}

// SanitizeProjectPaths strips the absolute project-directory prefix from a
// list of file paths, up to and including the first "/<project>/".
func SanitizeProjectPaths(project string, paths []string) []string {
	if project == "" {
		return paths
	}
	marker := "/" + project + "/"
	out := make([]string, len(paths))
	for i, p := range paths {
		if idx := strings.Index(p, marker); idx >= 0 {
			out[i] = p[idx+len(marker):]
		} else {
			out[i] = p
		}
	}
	return out
}

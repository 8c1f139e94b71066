// Package store provides the single-writer SQLite-backed store: schema,
// migrations, and typed row access for sessions, observations, summaries,
// prompts, the pending-message queue, and plan associations.
package store

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/lukaszraczylo/memoryd/pkg/models"
)

// SDKSession is the GORM row for models.SdkSession.
type SDKSession struct {
	ID               int64          `gorm:"primaryKey;autoIncrement"`
	ContentSessionID string         `gorm:"uniqueIndex;not null"`
	MemorySessionID  sql.NullString `gorm:"index"`
	Project          string         `gorm:"index;not null"`
	UserPrompt       sql.NullString
	PromptCounter    int    `gorm:"default:0"`
	Status           string `gorm:"type:text;check:status IN ('active', 'completed');default:'active';index"`
	StartedAt        string `gorm:"not null"`
	StartedAtEpoch   int64  `gorm:"index:idx_sessions_started,sort:desc;not null"`
	CompletedAt      sql.NullString
	CompletedAtEpoch sql.NullInt64
}

func (SDKSession) TableName() string { return "sdk_sessions" }

func (s *SDKSession) BeforeCreate(tx *gorm.DB) error {
	if s.StartedAtEpoch == 0 {
		s.StartedAtEpoch = time.Now().UnixMilli()
	}
	if s.StartedAt == "" {
		s.StartedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// Observation is the GORM row for models.Observation. Rows are keyed by
// MemorySessionID, never by the owning session's numeric id, so a later
// memory-id remap does not orphan existing observations.
type Observation struct {
	ID              int64                  `gorm:"primaryKey;autoIncrement"`
	MemorySessionID string                 `gorm:"index;not null"`
	Project         string                 `gorm:"index;not null"`
	Type            models.ObservationType `gorm:"type:text;check:type IN ('decision', 'bugfix', 'feature', 'refactor', 'discovery', 'change');index;not null"`
	Title           sql.NullString         `gorm:"type:text"`
	Subtitle        sql.NullString         `gorm:"type:text"`
	Narrative       sql.NullString         `gorm:"type:text"`
	Facts           models.JSONStringArray `gorm:"type:text"`
	Concepts        models.JSONStringArray `gorm:"type:text;index:idx_observations_concepts"`
	FilesRead       models.JSONStringArray `gorm:"type:text"`
	FilesModified   models.JSONStringArray `gorm:"type:text"`
	DiscoveryTokens int64                  `gorm:"default:0"`
	CreatedAt       string                 `gorm:"not null"`
	CreatedAtEpoch  int64                  `gorm:"index:idx_observations_created,sort:desc;not null"`
	Deleted         bool                   `gorm:"default:false;index"`
}

func (Observation) TableName() string { return "observations" }

func (o *Observation) BeforeCreate(tx *gorm.DB) error {
	if o.CreatedAtEpoch == 0 {
		o.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if o.CreatedAt == "" {
		o.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// SessionSummary is the GORM row for models.SessionSummary.
type SessionSummary struct {
	ID              int64  `gorm:"primaryKey;autoIncrement"`
	MemorySessionID string `gorm:"index;not null"`
	Project         string `gorm:"index;not null"`
	Request         sql.NullString
	Investigated    sql.NullString
	Learned         sql.NullString
	Completed       sql.NullString
	NextSteps       sql.NullString `gorm:"column:next_steps"`
	DiscoveryTokens int64          `gorm:"default:0"`
	CreatedAt       string         `gorm:"not null"`
	CreatedAtEpoch  int64          `gorm:"index:idx_summaries_created,sort:desc;not null"`
	Deleted         bool           `gorm:"default:false;index"`
}

func (SessionSummary) TableName() string { return "session_summaries" }

func (s *SessionSummary) BeforeCreate(tx *gorm.DB) error {
	if s.CreatedAtEpoch == 0 {
		s.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if s.CreatedAt == "" {
		s.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// UserPrompt is the GORM row for models.UserPrompt.
type UserPrompt struct {
	ID                  int64  `gorm:"primaryKey;autoIncrement"`
	ClaudeSessionID     string `gorm:"index;not null;uniqueIndex:idx_user_prompts_session_number_unique,priority:1"`
	PromptNumber        int    `gorm:"index;not null;uniqueIndex:idx_user_prompts_session_number_unique,priority:2"`
	PromptText          string `gorm:"type:text;not null"`
	MatchedObservations int    `gorm:"default:0"`
	CreatedAt           string `gorm:"not null"`
	CreatedAtEpoch      int64  `gorm:"index:idx_prompts_created,sort:desc;not null"`
}

func (UserPrompt) TableName() string { return "user_prompts" }

func (p *UserPrompt) BeforeCreate(tx *gorm.DB) error {
	if p.CreatedAtEpoch == 0 {
		p.CreatedAtEpoch = time.Now().UnixMilli()
	}
	if p.CreatedAt == "" {
		p.CreatedAt = time.Now().Format(time.RFC3339)
	}
	return nil
}

// PendingMessage is the GORM row for models.PendingMessage: a durable
// per-session queue entry. Never updated in place; a consumer selects and
// deletes a row inside one transaction.
type PendingMessage struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	SessionDBID    int64  `gorm:"index:idx_pending_session,priority:1;not null"`
	Payload        []byte `gorm:"type:blob;not null"`
	CreatedAtEpoch int64  `gorm:"index:idx_pending_session,priority:2,sort:asc;not null"`
}

func (PendingMessage) TableName() string { return "pending_messages" }

func (m *PendingMessage) BeforeCreate(tx *gorm.DB) error {
	if m.CreatedAtEpoch == 0 {
		m.CreatedAtEpoch = time.Now().UnixMilli()
	}
	return nil
}

// SessionPlan is the GORM row for models.SessionPlan: the 1:1 association
// from a session to a plan file. SessionDBID both primary-keys this table
// and foreign-keys it to sdk_sessions with ON DELETE CASCADE.
type SessionPlan struct {
	SessionDBID int64  `gorm:"primaryKey"`
	PlanPath    string `gorm:"not null"`
	PlanStatus  string `gorm:"type:text;check:plan_status IN ('PENDING', 'COMPLETE', 'VERIFIED');default:'PENDING';not null"`
	CreatedAt   string `gorm:"not null"`
	UpdatedAt   string `gorm:"not null"`
}

func (SessionPlan) TableName() string { return "session_plans" }

func (p *SessionPlan) BeforeCreate(tx *gorm.DB) error {
	now := time.Now().Format(time.RFC3339)
	if p.CreatedAt == "" {
		p.CreatedAt = now
	}
	if p.UpdatedAt == "" {
		p.UpdatedAt = now
	}
	return nil
}

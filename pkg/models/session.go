// Package models contains domain models for memoryd.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// SessionStatus is the lifecycle state of an SdkSession.
type SessionStatus string

const (
	SessionStatusActive    SessionStatus = "active"
	SessionStatusCompleted SessionStatus = "completed"
)

// SdkSession is the stable identity of one editor conversation.
type SdkSession struct {
	ID               int64          `db:"id" json:"id"`
	ContentSessionID string         `db:"content_session_id" json:"content_session_id"`
	MemorySessionID  sql.NullString `db:"memory_session_id" json:"memory_session_id,omitempty"`
	Project          string         `db:"project" json:"project"`
	UserPrompt       sql.NullString `db:"user_prompt" json:"user_prompt,omitempty"`
	PromptCounter    int            `db:"prompt_counter" json:"prompt_counter"`
	Status           SessionStatus  `db:"status" json:"status"`
	StartedAt        string         `db:"started_at" json:"started_at"`
	StartedAtEpoch   int64          `db:"started_at_epoch" json:"started_at_epoch"`
	CompletedAt      sql.NullString `db:"completed_at" json:"completed_at,omitempty"`
	CompletedAtEpoch sql.NullInt64  `db:"completed_at_epoch" json:"completed_at_epoch,omitempty"`
}

// sdkSessionJSON is the clean-JSON projection of SdkSession.
type sdkSessionJSON struct {
	ID               int64  `json:"id"`
	ContentSessionID string `json:"content_session_id"`
	MemorySessionID  string `json:"memory_session_id,omitempty"`
	Project          string `json:"project"`
	UserPrompt       string `json:"user_prompt,omitempty"`
	PromptCounter    int    `json:"prompt_counter"`
	Status           string `json:"status"`
	StartedAt        string `json:"started_at"`
	StartedAtEpoch   int64  `json:"started_at_epoch"`
	CompletedAt      string `json:"completed_at,omitempty"`
	CompletedAtEpoch int64  `json:"completed_at_epoch,omitempty"`
}

// MarshalJSON converts sql.Null* fields to plain values.
func (s *SdkSession) MarshalJSON() ([]byte, error) {
	j := sdkSessionJSON{
		ID:               s.ID,
		ContentSessionID: s.ContentSessionID,
		Project:          s.Project,
		PromptCounter:    s.PromptCounter,
		Status:           string(s.Status),
		StartedAt:        s.StartedAt,
		StartedAtEpoch:   s.StartedAtEpoch,
	}
	if s.MemorySessionID.Valid {
		j.MemorySessionID = s.MemorySessionID.String
	}
	if s.UserPrompt.Valid {
		j.UserPrompt = s.UserPrompt.String
	}
	if s.CompletedAt.Valid {
		j.CompletedAt = s.CompletedAt.String
	}
	if s.CompletedAtEpoch.Valid {
		j.CompletedAtEpoch = s.CompletedAtEpoch.Int64
	}
	return json.Marshal(j)
}

// NewSdkSession builds a fresh active session row.
func NewSdkSession(contentSessionID, project, userPrompt string) *SdkSession {
	now := time.Now()
	return &SdkSession{
		ContentSessionID: contentSessionID,
		Project:          project,
		UserPrompt:       sql.NullString{String: userPrompt, Valid: userPrompt != ""},
		Status:           SessionStatusActive,
		StartedAt:        now.Format(time.RFC3339),
		StartedAtEpoch:   now.UnixMilli(),
	}
}

// DashboardSession is the row shape returned by the dashboard sessions list,
// left-joined against the plan association table.
type DashboardSession struct {
	SessionDBID      int64  `json:"session_db_id"`
	ContentSessionID string `json:"content_session_id"`
	Project          string `json:"project"`
	Status           string `json:"status"`
	StartedAtEpoch   int64  `json:"started_at_epoch"`
	PlanPath         string `json:"plan_path,omitempty"`
	PlanStatus       string `json:"plan_status,omitempty"`
}

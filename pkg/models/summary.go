// Package models contains domain models for memoryd.
package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// SessionSummary is one end-of-turn synthesis for a session.
type SessionSummary struct {
	ID              int64          `db:"id" json:"id"`
	MemorySessionID string         `db:"memory_session_id" json:"memory_session_id"`
	Project         string         `db:"project" json:"project"`
	Request         sql.NullString `db:"request" json:"request,omitempty"`
	Investigated    sql.NullString `db:"investigated" json:"investigated,omitempty"`
	Learned         sql.NullString `db:"learned" json:"learned,omitempty"`
	Completed       sql.NullString `db:"completed" json:"completed,omitempty"`
	NextSteps       sql.NullString `db:"next_steps" json:"next_steps,omitempty"`
	DiscoveryTokens int64          `db:"discovery_tokens" json:"discovery_tokens"`
	CreatedAt       string         `db:"created_at" json:"created_at"`
	CreatedAtEpoch  int64          `db:"created_at_epoch" json:"created_at_epoch"`
}

// ParsedSummary is a summary as extracted from a host editor's end-of-turn
// report, before it is attached to a session.
type ParsedSummary struct {
	Request      string
	Investigated string
	Learned      string
	Completed    string
	NextSteps    string
}

// NewSessionSummary builds a summary row from parsed fields.
func NewSessionSummary(memorySessionID, project string, parsed *ParsedSummary, discoveryTokens int64) *SessionSummary {
	now := time.Now()
	return &SessionSummary{
		MemorySessionID: memorySessionID,
		Project:         project,
		Request:         sql.NullString{String: parsed.Request, Valid: parsed.Request != ""},
		Investigated:    sql.NullString{String: parsed.Investigated, Valid: parsed.Investigated != ""},
		Learned:         sql.NullString{String: parsed.Learned, Valid: parsed.Learned != ""},
		Completed:       sql.NullString{String: parsed.Completed, Valid: parsed.Completed != ""},
		NextSteps:       sql.NullString{String: parsed.NextSteps, Valid: parsed.NextSteps != ""},
		DiscoveryTokens: discoveryTokens,
		CreatedAt:       now.Format(time.RFC3339),
		CreatedAtEpoch:  now.UnixMilli(),
	}
}

// sessionSummaryJSON is the clean-JSON projection of SessionSummary.
type sessionSummaryJSON struct {
	ID              int64  `json:"id"`
	MemorySessionID string `json:"memory_session_id"`
	Project         string `json:"project"`
	Request         string `json:"request,omitempty"`
	Investigated    string `json:"investigated,omitempty"`
	Learned         string `json:"learned,omitempty"`
	Completed       string `json:"completed,omitempty"`
	NextSteps       string `json:"next_steps,omitempty"`
	DiscoveryTokens int64  `json:"discovery_tokens"`
	CreatedAt       string `json:"created_at"`
	CreatedAtEpoch  int64  `json:"created_at_epoch"`
}

// MarshalJSON converts sql.NullString fields to plain strings.
func (s *SessionSummary) MarshalJSON() ([]byte, error) {
	j := sessionSummaryJSON{
		ID:              s.ID,
		MemorySessionID: s.MemorySessionID,
		Project:         s.Project,
		DiscoveryTokens: s.DiscoveryTokens,
		CreatedAt:       s.CreatedAt,
		CreatedAtEpoch:  s.CreatedAtEpoch,
	}
	if s.Request.Valid {
		j.Request = s.Request.String
	}
	if s.Investigated.Valid {
		j.Investigated = s.Investigated.String
	}
	if s.Learned.Valid {
		j.Learned = s.Learned.String
	}
	if s.Completed.Valid {
		j.Completed = s.Completed.String
	}
	if s.NextSteps.Valid {
		j.NextSteps = s.NextSteps.String
	}
	return json.Marshal(j)
}

package models

import (
	"database/sql"
	"encoding/json"
	"time"
)

// ObservationType classifies one enriched tool-use event.
type ObservationType string

const (
	ObsTypeDiscovery ObservationType = "discovery"
	ObsTypeDecision  ObservationType = "decision"
	ObsTypeBugfix    ObservationType = "bugfix"
	ObsTypeFeature   ObservationType = "feature"
	ObsTypeRefactor  ObservationType = "refactor"
	ObsTypeChange    ObservationType = "change"
)

// Observation is one enriched tool-use event, as stored.
type Observation struct {
	ID              int64           `db:"id" json:"id"`
	MemorySessionID string          `db:"memory_session_id" json:"memory_session_id"`
	Project         string          `db:"project" json:"project"`
	Type            ObservationType `db:"type" json:"type"`
	Title           sql.NullString  `db:"title" json:"title,omitempty"`
	Subtitle        sql.NullString  `db:"subtitle" json:"subtitle,omitempty"`
	Narrative       sql.NullString  `db:"narrative" json:"narrative,omitempty"`
	Facts           JSONStringArray `db:"facts" json:"facts,omitempty"`
	Concepts        JSONStringArray `db:"concepts" json:"concepts,omitempty"`
	FilesRead       JSONStringArray `db:"files_read" json:"files_read,omitempty"`
	FilesModified   JSONStringArray `db:"files_modified" json:"files_modified,omitempty"`
	DiscoveryTokens int64           `db:"discovery_tokens" json:"discovery_tokens"`
	CreatedAt       string          `db:"created_at" json:"created_at"`
	CreatedAtEpoch  int64           `db:"created_at_epoch" json:"created_at_epoch"`
}

// ParsedObservation is an observation as extracted from a hook's ingest
// request, before project-path sanitisation and persistence.
type ParsedObservation struct {
	Type          ObservationType
	Title         string
	Subtitle      string
	Narrative     string
	Facts         []string
	Concepts      []string
	FilesRead     []string
	FilesModified []string
}

// ToStoredObservation converts parsed fields into the nullable-column shape
// without touching session/project identity or timestamps.
func (p *ParsedObservation) ToStoredObservation() *Observation {
	return &Observation{
		Type:          p.Type,
		Title:         sql.NullString{String: p.Title, Valid: p.Title != ""},
		Subtitle:      sql.NullString{String: p.Subtitle, Valid: p.Subtitle != ""},
		Narrative:     sql.NullString{String: p.Narrative, Valid: p.Narrative != ""},
		Facts:         JSONStringArray(p.Facts),
		Concepts:      JSONStringArray(p.Concepts),
		FilesRead:     JSONStringArray(p.FilesRead),
		FilesModified: JSONStringArray(p.FilesModified),
	}
}

// NewObservation builds a full observation row from parsed data, project
// and session identity, and a previously computed discovery token count.
func NewObservation(memorySessionID, project string, parsed *ParsedObservation, discoveryTokens int64) *Observation {
	obs := parsed.ToStoredObservation()
	now := time.Now()
	obs.MemorySessionID = memorySessionID
	obs.Project = project
	obs.DiscoveryTokens = discoveryTokens
	obs.CreatedAt = now.Format(time.RFC3339)
	obs.CreatedAtEpoch = now.UnixMilli()
	return obs
}

// observationJSON is the clean-JSON projection of Observation.
type observationJSON struct {
	ID              int64    `json:"id"`
	MemorySessionID string   `json:"memory_session_id"`
	Project         string   `json:"project"`
	Type            string   `json:"type"`
	Title           string   `json:"title,omitempty"`
	Subtitle        string   `json:"subtitle,omitempty"`
	Narrative       string   `json:"narrative,omitempty"`
	Facts           []string `json:"facts,omitempty"`
	Concepts        []string `json:"concepts,omitempty"`
	FilesRead       []string `json:"files_read,omitempty"`
	FilesModified   []string `json:"files_modified,omitempty"`
	DiscoveryTokens int64    `json:"discovery_tokens"`
	CreatedAt       string   `json:"created_at"`
	CreatedAtEpoch  int64    `json:"created_at_epoch"`
}

// MarshalJSON converts sql.NullString fields to plain strings.
func (o *Observation) MarshalJSON() ([]byte, error) {
	j := observationJSON{
		ID:              o.ID,
		MemorySessionID: o.MemorySessionID,
		Project:         o.Project,
		Type:            string(o.Type),
		Facts:           []string(o.Facts),
		Concepts:        []string(o.Concepts),
		FilesRead:       []string(o.FilesRead),
		FilesModified:   []string(o.FilesModified),
		DiscoveryTokens: o.DiscoveryTokens,
		CreatedAt:       o.CreatedAt,
		CreatedAtEpoch:  o.CreatedAtEpoch,
	}
	if o.Title.Valid {
		j.Title = o.Title.String
	}
	if o.Subtitle.Valid {
		j.Subtitle = o.Subtitle.String
	}
	if o.Narrative.Valid {
		j.Narrative = o.Narrative.String
	}
	return json.Marshal(j)
}

package models

// UserPrompt is a literal prompt recorded for a session, ordered by
// PromptNumber within that session.
type UserPrompt struct {
	ID             int64  `db:"id" json:"id"`
	ClaudeSessionID string `db:"claude_session_id" json:"claude_session_id"`
	PromptNumber   int    `db:"prompt_number" json:"prompt_number"`
	PromptText     string `db:"prompt_text" json:"prompt_text"`
	CreatedAt      string `db:"created_at" json:"created_at"`
	CreatedAtEpoch int64  `db:"created_at_epoch" json:"created_at_epoch"`
}

// UserPromptWithSession augments UserPrompt with its owning session's
// project, for dashboard listings that span sessions.
type UserPromptWithSession struct {
	Project      string `db:"project" json:"project"`
	SDKSessionID string `db:"sdk_session_id" json:"sdk_session_id"`
	UserPrompt
}

package models

// PendingMessage is a durable queue row: an opaque JSON payload awaiting
// processing by the session queue processor. Rows are never updated in
// place; a consumer claims and deletes a row atomically.
type PendingMessage struct {
	ID             int64  `db:"id" json:"id"`
	SessionDBID    int64  `db:"session_db_id" json:"session_db_id"`
	Payload        []byte `db:"payload" json:"-"`
	CreatedAtEpoch int64  `db:"created_at_epoch" json:"created_at_epoch"`
}

// Package queue implements the durable per-session pending-message queue.
// Every enqueue is a row insert; every claim is a transactional
// select-oldest-then-delete so at most one caller ever receives a given
// row, even under concurrent claims for the same session.
package queue

import (
	"context"
	"errors"
	"fmt"

	json "github.com/goccy/go-json"
	"gorm.io/gorm"

	"github.com/lukaszraczylo/memoryd/internal/eventbus"
	"github.com/lukaszraczylo/memoryd/internal/store"
	"github.com/lukaszraczylo/memoryd/pkg/models"
)

// ErrCorruptPayload wraps a payload that failed to unmarshal. Callers must
// log and skip the offending row rather than abort the batch.
var ErrCorruptPayload = errors.New("queue: corrupt message payload")

// Queue is the durable MessageQueue backed by the pending_messages table.
type Queue struct {
	db  *gorm.DB
	bus *eventbus.Bus
}

// New wires a Queue to the shared store and the bus used to wake parked
// SessionQueueProcessor iterators.
func New(db *gorm.DB, bus *eventbus.Bus) *Queue {
	return &Queue{db: db, bus: bus}
}

// Enqueue appends a message for sessionDBID and wakes any waiting consumer.
func (q *Queue) Enqueue(ctx context.Context, sessionDBID int64, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	row := &store.PendingMessage{SessionDBID: sessionDBID, Payload: raw}
	if err := q.db.WithContext(ctx).Create(row).Error; err != nil {
		return fmt.Errorf("insert pending message: %w", err)
	}
	q.bus.Notify()
	return nil
}

// ClaimAndDelete atomically returns and removes the oldest pending message
// for sessionDBID, or (nil, nil) if the queue is empty for that session.
func (q *Queue) ClaimAndDelete(ctx context.Context, sessionDBID int64) (*models.PendingMessage, error) {
	rows, err := q.claimAndDeleteN(ctx, sessionDBID, 1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// ClaimAndDeleteBatch atomically returns and removes up to limit pending
// messages for sessionDBID, oldest first.
func (q *Queue) ClaimAndDeleteBatch(ctx context.Context, sessionDBID int64, limit int) ([]models.PendingMessage, error) {
	return q.claimAndDeleteN(ctx, sessionDBID, limit)
}

func (q *Queue) claimAndDeleteN(ctx context.Context, sessionDBID int64, limit int) ([]models.PendingMessage, error) {
	var claimed []store.PendingMessage
	err := q.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rows []store.PendingMessage
		if err := tx.Where("session_db_id = ?", sessionDBID).
			Order("created_at_epoch ASC, id ASC").
			Limit(limit).
			Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]int64, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		if err := tx.Where("id IN ?", ids).Delete(&store.PendingMessage{}).Error; err != nil {
			return err
		}
		claimed = rows
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim messages: %w", err)
	}

	out := make([]models.PendingMessage, 0, len(claimed))
	for _, row := range claimed {
		out = append(out, toPendingMessage(row))
	}
	return out, nil
}

// Depth returns the number of pending messages queued for sessionDBID.
func (q *Queue) Depth(ctx context.Context, sessionDBID int64) (int64, error) {
	var count int64
	err := q.db.WithContext(ctx).Model(&store.PendingMessage{}).
		Where("session_db_id = ?", sessionDBID).
		Count(&count).Error
	return count, err
}

func toPendingMessage(row store.PendingMessage) models.PendingMessage {
	return models.PendingMessage{
		ID:             row.ID,
		SessionDBID:    row.SessionDBID,
		Payload:        row.Payload,
		CreatedAtEpoch: row.CreatedAtEpoch,
	}
}

// DecodePayload unmarshals a claimed message's payload into dst. A
// malformed payload is reported as ErrCorruptPayload so the caller can log
// and skip the row instead of aborting the whole batch.
func DecodePayload(msg models.PendingMessage, dst interface{}) error {
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		return fmt.Errorf("%w: message %d: %v", ErrCorruptPayload, msg.ID, err)
	}
	return nil
}

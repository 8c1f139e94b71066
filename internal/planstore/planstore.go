// Package planstore manages the 1:1 association between a session and the
// plan document it is working against. Every mutation notifies a
// plan_association_changed listener so connected dashboards can refresh.
package planstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lukaszraczylo/memoryd/internal/store"
	"github.com/lukaszraczylo/memoryd/pkg/models"
)

// ErrInvalidStatus is returned when a caller supplies a plan status outside
// {PENDING, COMPLETE, VERIFIED}.
var ErrInvalidStatus = errors.New("planstore: invalid plan status")

// Notifier is called after every successful associate/clear/status-update,
// and on no other call. Wired to SSEBroadcaster's plan_association_changed
// event once the broadcaster exists.
type Notifier func(sessionDBID int64, plan *models.SessionPlan)

// Store manages session→plan associations over the sdk_sessions/session_plans
// tables.
type Store struct {
	db     *gorm.DB
	notify Notifier
}

// New wires a Store to the shared database handle. notify may be nil, in
// which case mutations are silent (useful in tests).
func New(db *gorm.DB, notify Notifier) *Store {
	if notify == nil {
		notify = func(int64, *models.SessionPlan) {}
	}
	return &Store{db: db, notify: notify}
}

// AssociatePlan upserts the plan association for sessionDBID, creating it
// with status PENDING if absent or overwriting planPath otherwise.
func (s *Store) AssociatePlan(ctx context.Context, sessionDBID int64, planPath string) (*models.SessionPlan, error) {
	row := &store.SessionPlan{
		SessionDBID: sessionDBID,
		PlanPath:    planPath,
		PlanStatus:  string(models.PlanStatusPending),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_db_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"plan_path", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("associate plan: %w", err)
	}

	plan, err := s.GetPlanForSession(ctx, sessionDBID)
	if err != nil {
		return nil, fmt.Errorf("reload plan: %w", err)
	}
	s.notify(sessionDBID, plan)
	return plan, nil
}

// GetPlanForSession returns the plan associated with sessionDBID, or nil if
// none exists (including after a cascading session delete).
func (s *Store) GetPlanForSession(ctx context.Context, sessionDBID int64) (*models.SessionPlan, error) {
	var row store.SessionPlan
	err := s.db.WithContext(ctx).First(&row, "session_db_id = ?", sessionDBID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	plan := toModel(row)
	return &plan, nil
}

// GetPlanByContentSessionID resolves the plan via the session's external
// content-session identifier, joining sdk_sessions.
func (s *Store) GetPlanByContentSessionID(ctx context.Context, contentSessionID string) (*models.SessionPlan, error) {
	var row store.SessionPlan
	err := s.db.WithContext(ctx).
		Joins("JOIN sdk_sessions ON sdk_sessions.id = session_plans.session_db_id").
		Where("sdk_sessions.content_session_id = ?", contentSessionID).
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	plan := toModel(row)
	return &plan, nil
}

// UpdateStatus transitions the plan's status, rejecting any value outside
// {PENDING, COMPLETE, VERIFIED}.
func (s *Store) UpdateStatus(ctx context.Context, sessionDBID int64, status string) (*models.SessionPlan, error) {
	if !models.IsValidPlanStatus(status) {
		return nil, ErrInvalidStatus
	}

	result := s.db.WithContext(ctx).
		Model(&store.SessionPlan{}).
		Where("session_db_id = ?", sessionDBID).
		Update("plan_status", status)
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected == 0 {
		return nil, gorm.ErrRecordNotFound
	}

	plan, err := s.GetPlanForSession(ctx, sessionDBID)
	if err != nil {
		return nil, err
	}
	s.notify(sessionDBID, plan)
	return plan, nil
}

// ClearPlanAssociation removes the plan association for sessionDBID, if any.
func (s *Store) ClearPlanAssociation(ctx context.Context, sessionDBID int64) error {
	if err := s.db.WithContext(ctx).Delete(&store.SessionPlan{}, "session_db_id = ?", sessionDBID).Error; err != nil {
		return err
	}
	s.notify(sessionDBID, nil)
	return nil
}

func toModel(row store.SessionPlan) models.SessionPlan {
	return models.SessionPlan{
		SessionDBID: row.SessionDBID,
		PlanPath:    row.PlanPath,
		PlanStatus:  models.PlanStatus(row.PlanStatus),
		CreatedAt:   row.CreatedAt,
		UpdatedAt:   row.UpdatedAt,
	}
}

package store

import (
	"context"

	"github.com/lukaszraczylo/memoryd/pkg/models"
)

// InsertObservation persists one enriched tool-use event.
func (s *Store) InsertObservation(ctx context.Context, obs *models.Observation) (int64, error) {
	row := &Observation{
		MemorySessionID: obs.MemorySessionID,
		Project:         obs.Project,
		Type:            obs.Type,
		Title:           obs.Title,
		Subtitle:        obs.Subtitle,
		Narrative:       obs.Narrative,
		Facts:           models.JSONStringArray(obs.Facts),
		Concepts:        models.JSONStringArray(obs.Concepts),
		FilesRead:       models.JSONStringArray(obs.FilesRead),
		FilesModified:   models.JSONStringArray(obs.FilesModified),
		DiscoveryTokens: obs.DiscoveryTokens,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// InsertSummary persists one end-of-turn synthesis.
func (s *Store) InsertSummary(ctx context.Context, sum *models.SessionSummary) (int64, error) {
	row := &SessionSummary{
		MemorySessionID: sum.MemorySessionID,
		Project:         sum.Project,
		Request:         sum.Request,
		Investigated:    sum.Investigated,
		Learned:         sum.Learned,
		Completed:       sum.Completed,
		NextSteps:       sum.NextSteps,
		DiscoveryTokens: sum.DiscoveryTokens,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// InsertPrompt persists one literal user prompt.
func (s *Store) InsertPrompt(ctx context.Context, prompt *models.UserPrompt) (int64, error) {
	row := &UserPrompt{
		ClaudeSessionID: prompt.ClaudeSessionID,
		PromptNumber:    prompt.PromptNumber,
		PromptText:      prompt.PromptText,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return 0, err
	}
	return row.ID, nil
}

// ObservationsForProject returns observations for a project whose type is
// in the allowed set (nil means no type filter) and whose concepts
// intersect the allowed concept set (nil means no concept filter), newest
// first, bounded by limit.
func (s *Store) ObservationsForProject(ctx context.Context, project string, types, concepts []string, limit int) ([]Observation, error) {
	q := s.db.WithContext(ctx).Model(&Observation{}).Where("project = ? AND deleted = ?", project, false)
	if len(types) > 0 {
		q = q.Where("type IN ?", types)
	}
	if len(concepts) > 0 {
		clause := "0"
		args := make([]interface{}, 0, len(concepts))
		for _, c := range concepts {
			clause += " OR concepts LIKE ?"
			args = append(args, "%\""+c+"\"%")
		}
		q = q.Where(clause, args...)
	}
	var rows []Observation
	err := q.Order("created_at_epoch DESC").Limit(limit).Find(&rows).Error
	return rows, err
}

// SummariesForProject returns the most recent summaries for a project.
func (s *Store) SummariesForProject(ctx context.Context, project string, limit int) ([]SessionSummary, error) {
	var rows []SessionSummary
	err := s.db.WithContext(ctx).Model(&SessionSummary{}).
		Where("project = ? AND deleted = ?", project, false).
		Order("created_at_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ObservationsForProjectPlanScoped returns observations for a project whose
// owning session is either unassociated with any plan ("quick mode") or
// associated with planPath; rows from sessions associated with a different
// plan are excluded. types/concepts filter identically to
// ObservationsForProject.
func (s *Store) ObservationsForProjectPlanScoped(ctx context.Context, project, planPath string, types, concepts []string, limit int) ([]Observation, error) {
	q := s.db.WithContext(ctx).Model(&Observation{}).
		Joins("LEFT JOIN sdk_sessions ON sdk_sessions.memory_session_id = observations.memory_session_id").
		Joins("LEFT JOIN session_plans ON session_plans.session_db_id = sdk_sessions.id").
		Where("observations.project = ? AND observations.deleted = ?", project, false).
		Where("session_plans.plan_path IS NULL OR session_plans.plan_path = ?", planPath)
	if len(types) > 0 {
		q = q.Where("observations.type IN ?", types)
	}
	if len(concepts) > 0 {
		clause := "0"
		args := make([]interface{}, 0, len(concepts))
		for _, c := range concepts {
			clause += " OR observations.concepts LIKE ?"
			args = append(args, "%\""+c+"\"%")
		}
		q = q.Where(clause, args...)
	}
	var rows []Observation
	err := q.Select("observations.*").
		Order("observations.created_at_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// SummariesForProjectPlanScoped applies the same plan-scope rule as
// ObservationsForProjectPlanScoped to summaries.
func (s *Store) SummariesForProjectPlanScoped(ctx context.Context, project, planPath string, limit int) ([]SessionSummary, error) {
	var rows []SessionSummary
	err := s.db.WithContext(ctx).Model(&SessionSummary{}).
		Joins("LEFT JOIN sdk_sessions ON sdk_sessions.memory_session_id = session_summaries.memory_session_id").
		Joins("LEFT JOIN session_plans ON session_plans.session_db_id = sdk_sessions.id").
		Where("session_summaries.project = ? AND session_summaries.deleted = ?", project, false).
		Where("session_plans.plan_path IS NULL OR session_plans.plan_path = ?", planPath).
		Select("session_summaries.*").
		Order("session_summaries.created_at_epoch DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

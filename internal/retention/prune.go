package retention

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/lukaszraczylo/memoryd/internal/store"
)

// pruneObservations applies the age bound, then the count bound, to the
// observations table. A row whose type is in policy.ExcludeTypes is exempt
// from both bounds.
func pruneObservations(ctx context.Context, db *gorm.DB, policy Policy) error {
	base := func() *gorm.DB {
		q := db.WithContext(ctx).Model(&store.Observation{}).Where("deleted = ?", false)
		if len(policy.ExcludeTypes) > 0 {
			q = q.Where("type NOT IN ?", policy.ExcludeTypes)
		}
		return q
	}

	if policy.MaxAgeDays > 0 {
		cutoff := ageCutoffEpoch(policy.MaxAgeDays)
		if err := applyDelete(base().Where("created_at_epoch < ?", cutoff), &store.Observation{}, policy.SoftDelete); err != nil {
			return err
		}
	}

	if policy.MaxCount > 0 {
		ids, err := overflowIDs(base(), policy.MaxCount)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := applyDelete(db.WithContext(ctx).Model(&store.Observation{}).Where("id IN ?", ids), &store.Observation{}, policy.SoftDelete); err != nil {
				return err
			}
		}
	}

	return nil
}

// pruneSummaries applies the same bounds to session_summaries. Summaries
// have no type column, so ExcludeTypes has no effect on this table.
func pruneSummaries(ctx context.Context, db *gorm.DB, policy Policy) error {
	base := func() *gorm.DB {
		return db.WithContext(ctx).Model(&store.SessionSummary{}).Where("deleted = ?", false)
	}

	if policy.MaxAgeDays > 0 {
		cutoff := ageCutoffEpoch(policy.MaxAgeDays)
		if err := applyDelete(base().Where("created_at_epoch < ?", cutoff), &store.SessionSummary{}, policy.SoftDelete); err != nil {
			return err
		}
	}

	if policy.MaxCount > 0 {
		ids, err := overflowIDs(base(), policy.MaxCount)
		if err != nil {
			return err
		}
		if len(ids) > 0 {
			if err := applyDelete(db.WithContext(ctx).Model(&store.SessionSummary{}).Where("id IN ?", ids), &store.SessionSummary{}, policy.SoftDelete); err != nil {
				return err
			}
		}
	}

	return nil
}

func ageCutoffEpoch(maxAgeDays int) int64 {
	return time.Now().AddDate(0, 0, -maxAgeDays).UnixMilli()
}

// overflowIDs returns the IDs of the oldest rows beyond maxCount, i.e. the
// rows a count bound would prune, given the (already deleted/type-filtered)
// query q.
func overflowIDs(q *gorm.DB, maxCount int) ([]int64, error) {
	var total int64
	if err := q.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, err
	}
	overflow := total - int64(maxCount)
	if overflow <= 0 {
		return nil, nil
	}

	var ids []int64
	err := q.Session(&gorm.Session{}).
		Order("created_at_epoch ASC, id ASC").
		Limit(int(overflow)).
		Pluck("id", &ids).Error
	return ids, err
}

// applyDelete either hard-deletes the rows matched by q, or marks them
// deleted, depending on soft.
func applyDelete(q *gorm.DB, model interface{}, soft bool) error {
	if soft {
		return q.Update("deleted", true).Error
	}
	return q.Delete(model).Error
}

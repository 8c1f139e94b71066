package store

import (
	"database/sql"
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations applies every versioned migration in order. Each migration
// ID is permanent once released; gormigrate records applied IDs in its own
// table and skips them on subsequent runs, so this is safe to call on every
// process start.
func runMigrations(db *gorm.DB, sqlDB *sql.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "001_sessions",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&SDKSession{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("sdk_sessions")
			},
		},
		{
			ID: "002_observations_and_summaries",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Observation{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&SessionSummary{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("observations", "session_summaries")
			},
		},
		{
			ID: "003_user_prompts",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&UserPrompt{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("user_prompts")
			},
		},
		{
			ID: "004_pending_messages",
			Migrate: func(tx *gorm.DB) error {
				return tx.AutoMigrate(&PendingMessage{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("pending_messages")
			},
		},
		{
			// SQLite's FK enforcement only fires on an explicit
			// "REFERENCES ... ON DELETE CASCADE" in the table's DDL;
			// GORM's struct-tag FKs alone don't add it. AutoMigrate first,
			// then rebuild with an explicit cascading foreign key.
			ID: "005_session_plans",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&SessionPlan{}); err != nil {
					return err
				}
				sqls := []string{
					`CREATE TABLE IF NOT EXISTS session_plans_v2 (
						session_db_id INTEGER PRIMARY KEY,
						plan_path TEXT NOT NULL,
						plan_status TEXT NOT NULL DEFAULT 'PENDING' CHECK (plan_status IN ('PENDING','COMPLETE','VERIFIED')),
						created_at TEXT NOT NULL,
						updated_at TEXT NOT NULL,
						FOREIGN KEY (session_db_id) REFERENCES sdk_sessions(id) ON DELETE CASCADE
					)`,
					`INSERT INTO session_plans_v2 SELECT * FROM session_plans`,
					`DROP TABLE session_plans`,
					`ALTER TABLE session_plans_v2 RENAME TO session_plans`,
				}
				for _, s := range sqls {
					if err := tx.Exec(s).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable("session_plans")
			},
		},
		{
			// Adds the soft-delete marker the retention scheduler sets
			// instead of a hard DELETE when policy.softDelete is true.
			ID: "006_retention_soft_delete",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&Observation{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&SessionSummary{})
			},
			Rollback: func(tx *gorm.DB) error {
				if err := tx.Migrator().DropColumn(&Observation{}, "Deleted"); err != nil {
					return err
				}
				return tx.Migrator().DropColumn(&SessionSummary{}, "Deleted")
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

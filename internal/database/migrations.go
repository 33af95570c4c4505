package database

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	migrationStripProviderPrefix = "2025-05-12_strip_google_provider_prefix"
	migrationRecountTagUsage     = "2025-07-03_recount_tag_usage"

	legacyProviderPrefix = "google:"
)

// userColumns lists every column holding a user id.
var userColumns = []struct {
	table  string
	column string
}{
	{table: "questions", column: "author_id"},
	{table: "answers", column: "author_id"},
	{table: "answer_edits", column: "editor_id"},
	{table: "answer_comments", column: "author_id"},
	{table: "votes", column: "user_id"},
	{table: "notifications", column: "recipient_id"},
	{table: "notifications", column: "sender_id"},
}

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	migrations := []migrationDefinition{
		{name: migrationStripProviderPrefix, apply: stripProviderPrefix},
		{name: migrationRecountTagUsage, apply: recountTagUsage},
	}

	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: time.Now().UTC().Unix()}).Error
		}); err != nil {
			return fmt.Errorf("migration %s: %w", migration.name, err)
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// stripProviderPrefix rewrites user ids stored before identities were canonicalized.
func stripProviderPrefix(db *gorm.DB) error {
	start := len(legacyProviderPrefix) + 1
	for _, target := range userColumns {
		statement := fmt.Sprintf("UPDATE %s SET %s = substr(%s, %d) WHERE %s LIKE ?",
			target.table, target.column, target.column, start, target.column)
		if err := db.Exec(statement, legacyProviderPrefix+"%").Error; err != nil {
			return err
		}
	}
	return nil
}

// recountTagUsage rebuilds usage counters from the question links.
func recountTagUsage(db *gorm.DB) error {
	return db.Exec("UPDATE tags SET usage_count = " +
		"(SELECT COUNT(*) FROM question_tags WHERE question_tags.tag_name = tags.name)").Error
}

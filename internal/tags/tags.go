// Package tags keeps tag usage accounting for questions.
package tags

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/qna/internal/faults"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// MaxPerQuestion bounds the number of tags attached to a single question.
	MaxPerQuestion = 5
	maxNameLength  = 35

	opNormalize = "tags.normalize"
	opAcquire   = "tags.acquire"
	opRelease   = "tags.release"
	opList      = "tags.list"
)

var (
	ErrTooManyTags    = errors.New("tags: too many tags")
	ErrInvalidTagName = errors.New("tags: invalid tag name")
)

// Tag is a case-normalized label with a usage counter.
type Tag struct {
	Name       string    `gorm:"column:name;primaryKey;size:35;not null" json:"name"`
	UsageCount int64     `gorm:"column:usage_count;not null;default:0" json:"usageCount"`
	Synonyms   string    `gorm:"column:synonyms;type:text;not null;default:''" json:"-"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName provides the explicit table binding for GORM.
func (Tag) TableName() string {
	return "tags"
}

// SynonymList splits the stored comma separated synonyms.
func (t Tag) SynonymList() []string {
	if t.Synonyms == "" {
		return nil
	}
	return strings.Split(t.Synonyms, ",")
}

// Normalize lowercases, trims and deduplicates raw tag names, preserving first-seen order.
func Normalize(rawNames []string) ([]string, error) {
	seen := make(map[string]struct{}, len(rawNames))
	names := make([]string, 0, len(rawNames))
	for _, raw := range rawNames {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" {
			continue
		}
		if len(name) > maxNameLength || strings.ContainsAny(name, " ,") {
			return nil, faults.Validation(opNormalize, "invalid_name", fmt.Errorf("%w: %q", ErrInvalidTagName, raw))
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	if len(names) > MaxPerQuestion {
		return nil, faults.Validation(opNormalize, "too_many_tags", fmt.Errorf("%w: %d > %d", ErrTooManyTags, len(names), MaxPerQuestion))
	}
	return names, nil
}

// Acquire creates missing tags and increments usage for every name, inside tx.
func Acquire(tx *gorm.DB, names []string) error {
	for _, name := range names {
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&Tag{Name: name}).Error; err != nil {
			return faults.Storage(opAcquire, "create_failed", err)
		}
		if err := tx.Model(&Tag{}).Where("name = ?", name).
			UpdateColumn("usage_count", gorm.Expr("usage_count + ?", 1)).Error; err != nil {
			return faults.Storage(opAcquire, "increment_failed", err)
		}
	}
	return nil
}

// Release decrements usage for every name, inside tx. Counters never go below zero.
func Release(tx *gorm.DB, names []string) error {
	if len(names) == 0 {
		return nil
	}
	if err := tx.Model(&Tag{}).Where("name IN ? AND usage_count > 0", names).
		UpdateColumn("usage_count", gorm.Expr("usage_count - ?", 1)).Error; err != nil {
		return faults.Storage(opRelease, "decrement_failed", err)
	}
	return nil
}

// Diff returns the names only in next (added) and only in previous (removed).
func Diff(previous, next []string) (added, removed []string) {
	previousSet := make(map[string]struct{}, len(previous))
	for _, name := range previous {
		previousSet[name] = struct{}{}
	}
	nextSet := make(map[string]struct{}, len(next))
	for _, name := range next {
		nextSet[name] = struct{}{}
		if _, ok := previousSet[name]; !ok {
			added = append(added, name)
		}
	}
	for _, name := range previous {
		if _, ok := nextSet[name]; !ok {
			removed = append(removed, name)
		}
	}
	return added, removed
}

// List returns tags ordered by usage, optionally filtered by a name prefix.
func List(ctx context.Context, db *gorm.DB, prefix string, limit int) ([]Tag, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	query := db.WithContext(ctx).Model(&Tag{}).Where("usage_count > 0")
	if prefix = strings.ToLower(strings.TrimSpace(prefix)); prefix != "" {
		query = query.Where("name LIKE ?", prefix+"%")
	}
	var result []Tag
	if err := query.Order("usage_count DESC, name ASC").Limit(limit).Find(&result).Error; err != nil {
		return nil, faults.Storage(opList, "query_failed", err)
	}
	return result, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"school-portal/backend/conversation/models"

	"gorm.io/gorm"
)

// unreadClause matches rows whose message log holds at least one unread message from someone other than the owner
const unreadClause = `EXISTS (SELECT 1 FROM jsonb_array_elements(conversations.messages) AS m ` +
	`WHERE COALESCE((m->>'read')::boolean, false) = false AND m->>'sender' <> 'user')`

// GormRepository stores conversations in PostgreSQL with the message log in a JSONB column
type GormRepository struct {
	db *gorm.DB
}

func NewGormRepository(db *gorm.DB) *GormRepository {
	return &GormRepository{db: db}
}

// Migrate creates or updates the conversations table
func (r *GormRepository) Migrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&models.Conversation{})
}

func (r *GormRepository) Create(ctx context.Context, c *models.Conversation) error {
	if err := r.db.WithContext(ctx).Create(c).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("conversation %s: %w", c.ID, models.ErrConflict)
		}
		return err
	}
	return nil
}

func (r *GormRepository) GetByID(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).Take(&c).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
		}
		return nil, err
	}
	return &c, nil
}

func (r *GormRepository) Update(ctx context.Context, c *models.Conversation) error {
	next := c.Version + 1
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ? AND version = ?", c.ID, c.Version).
		Updates(updateColumns(c, next))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.missOrConflict(ctx, c.ID)
	}
	c.Version = next
	return nil
}

// updateColumns lists every mutable column explicitly so zero values are written too
func updateColumns(c *models.Conversation, version int64) map[string]any {
	return map[string]any{
		"context_role":          c.Context.Role,
		"context_grade":         c.Context.Grade,
		"context_subjects":      c.Context.Subjects,
		"context_classroom":     c.Context.Classroom,
		"context_school_year":   c.Context.SchoolYear,
		"context_language":      c.Context.Language,
		"messages":              c.Messages,
		"title":                 c.Title,
		"status":                c.Status,
		"last_active":           c.LastActive,
		"participants":          c.Participants,
		"tags":                  c.Tags,
		"sentiment_score":       c.SentimentScore,
		"message_count_user":    c.MessageCount.User,
		"message_count_bot":     c.MessageCount.Bot,
		"average_response_time": c.AverageResponseTime,
		"updated_at":            c.UpdatedAt,
		"version":               version,
	}
}

func (r *GormRepository) missOrConflict(ctx context.Context, id string) error {
	var n int64
	if err := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return fmt.Errorf("conversation %s: %w", id, models.ErrConflict)
}

// scope applies f to tx
func scope(tx *gorm.DB, f Filter) *gorm.DB {
	tx = tx.Model(&models.Conversation{})
	if f.Status != "" {
		tx = tx.Where("status = ?", f.Status)
	}
	if f.UserID != "" {
		tx = tx.Where("user_id = ?", f.UserID)
	}
	if f.Role != "" {
		tx = tx.Where("context_role = ?", f.Role)
	}
	if !f.InactiveBefore.IsZero() {
		tx = tx.Where("last_active < ?", f.InactiveBefore)
	}
	if f.UnreadOnly {
		tx = tx.Where(unreadClause)
	}
	if f.Limit > 0 {
		tx = tx.Limit(f.Limit)
	}
	return tx
}

func (r *GormRepository) Iterate(ctx context.Context, f Filter, fn func(*models.Conversation) bool) error {
	rows, err := scope(r.db.WithContext(ctx), f).Order("last_active DESC").Rows()
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var c models.Conversation
		if err := r.db.ScanRows(rows, &c); err != nil {
			return err
		}
		if !fn(&c) {
			return nil
		}
	}
	return rows.Err()
}

func (r *GormRepository) FindIDs(ctx context.Context, f Filter) ([]string, error) {
	var ids []string
	err := scope(r.db.WithContext(ctx), f).Order("last_active ASC").Pluck("id", &ids).Error
	return ids, err
}

func (r *GormRepository) ArchiveByIDs(ctx context.Context, ids []string, cutoff, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id IN ? AND status = ? AND last_active < ?", ids, models.StatusActive, cutoff).
		Updates(map[string]any{
			"status":     models.StatusArchived,
			"version":    gorm.Expr("version + 1"),
			"updated_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *GormRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	return sqlDB.PingContext(ctx)
}

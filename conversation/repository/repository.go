package repository

import (
	"context"
	"time"

	"school-portal/backend/conversation/models"
)

// Filter selects conversations. Set fields are combined with AND.
type Filter struct {
	Status         models.Status
	UserID         string
	Role           models.Role
	UnreadOnly     bool
	InactiveBefore time.Time
	Limit          int
}

// Matches evaluates the filter against a single conversation in memory
func (f Filter) Matches(c *models.Conversation) bool {
	if f.Status != "" && c.Status != f.Status {
		return false
	}
	if f.UserID != "" && c.User != f.UserID {
		return false
	}
	if f.Role != "" && c.Context.Role != f.Role {
		return false
	}
	if !f.InactiveBefore.IsZero() && !c.LastActive.Before(f.InactiveBefore) {
		return false
	}
	if f.UnreadOnly && !c.HasUnread() {
		return false
	}
	return true
}

// ConversationRepository persists conversation aggregates.
//
// Update is a compare-and-swap on Version: it succeeds only when the stored version
// equals c.Version, and on success bumps c.Version by one. A stale version yields
// models.ErrConflict; a missing row yields models.ErrNotFound.
type ConversationRepository interface {
	Create(ctx context.Context, c *models.Conversation) error
	GetByID(ctx context.Context, id string) (*models.Conversation, error)
	Update(ctx context.Context, c *models.Conversation) error
	// Iterate streams matching conversations, newest activity first, until fn returns false
	Iterate(ctx context.Context, f Filter, fn func(*models.Conversation) bool) error
	// FindIDs returns the ids of matching conversations without loading message logs
	FindIDs(ctx context.Context, f Filter) ([]string, error)
	// ArchiveByIDs moves the given conversations from active to archived when they are still
	// active and inactive since before cutoff, stamping updatedAt with now. It returns how
	// many rows changed.
	ArchiveByIDs(ctx context.Context, ids []string, cutoff, now time.Time) (int64, error)
	Ping(ctx context.Context) error
}

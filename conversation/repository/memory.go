package repository

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"school-portal/backend/conversation/models"
)

// MemoryRepository keeps conversations in process. Stored values are private copies,
// so callers never alias repository state.
type MemoryRepository struct {
	mu    sync.RWMutex
	items map[string]*models.Conversation
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[string]*models.Conversation)}
}

func (r *MemoryRepository) Create(_ context.Context, c *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.items[c.ID]; ok {
		return fmt.Errorf("conversation %s: %w", c.ID, models.ErrConflict)
	}
	r.items[c.ID] = c.Clone()
	return nil
}

func (r *MemoryRepository) GetByID(_ context.Context, id string) (*models.Conversation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.items[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return c.Clone(), nil
}

func (r *MemoryRepository) Update(_ context.Context, c *models.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.items[c.ID]
	if !ok {
		return fmt.Errorf("conversation %s: %w", c.ID, models.ErrNotFound)
	}
	if cur.Version != c.Version {
		return fmt.Errorf("conversation %s: %w", c.ID, models.ErrConflict)
	}
	c.Version++
	r.items[c.ID] = c.Clone()
	return nil
}

// snapshot returns clones of matching conversations ordered by lastActive
func (r *MemoryRepository) snapshot(f Filter, newestFirst bool) []*models.Conversation {
	r.mu.RLock()
	out := make([]*models.Conversation, 0, len(r.items))
	for _, c := range r.items {
		if f.Matches(c) {
			out = append(out, c.Clone())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastActive.Equal(out[j].LastActive) {
			return out[i].ID < out[j].ID
		}
		if newestFirst {
			return out[i].LastActive.After(out[j].LastActive)
		}
		return out[i].LastActive.Before(out[j].LastActive)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out
}

func (r *MemoryRepository) Iterate(ctx context.Context, f Filter, fn func(*models.Conversation) bool) error {
	for _, c := range r.snapshot(f, true) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(c) {
			return nil
		}
	}
	return nil
}

func (r *MemoryRepository) FindIDs(_ context.Context, f Filter) ([]string, error) {
	matches := r.snapshot(f, false)
	ids := make([]string, 0, len(matches))
	for _, c := range matches {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (r *MemoryRepository) ArchiveByIDs(ctx context.Context, ids []string, cutoff, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, id := range ids {
		c, ok := r.items[id]
		if !ok || c.Status != models.StatusActive || !c.LastActive.Before(cutoff) {
			continue
		}
		c.Status = models.StatusArchived
		c.Version++
		c.UpdatedAt = now
		n++
	}
	return n, nil
}

func (r *MemoryRepository) Ping(context.Context) error { return nil }

// Len returns the number of stored conversations
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

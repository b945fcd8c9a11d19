package service

import (
	"context"
	"iter"

	"school-portal/backend/conversation/models"
	"school-portal/backend/conversation/repository"
)

// Query is a read-only, composable selection over stored conversations.
// Each method returns a new Query; conditions combine with AND.
type Query struct {
	repo   repository.ConversationRepository
	filter repository.Filter
}

// Query starts an unfiltered selection
func (s *ConversationService) Query() Query {
	return Query{repo: s.repo}
}

// Active keeps conversations whose status is active
func (q Query) Active() Query {
	q.filter.Status = models.StatusActive
	return q
}

// WithStatus keeps conversations in the given status
func (q Query) WithStatus(status models.Status) Query {
	q.filter.Status = status
	return q
}

// ByUser keeps conversations owned by userID
func (q Query) ByUser(userID string) Query {
	q.filter.UserID = userID
	return q
}

// ByRole keeps conversations whose context role is role
func (q Query) ByRole(role models.Role) Query {
	q.filter.Role = role
	return q
}

// WithUnreadMessages keeps conversations holding at least one unread message not sent by the owner
func (q Query) WithUnreadMessages() Query {
	q.filter.UnreadOnly = true
	return q
}

// Limit caps the number of results; zero or less means no cap
func (q Query) Limit(n int) Query {
	q.filter.Limit = n
	return q
}

// Filter exposes the accumulated filter
func (q Query) Filter() repository.Filter {
	return q.filter
}

// All returns a lazy sequence over the matches, most recently active first. Nothing is
// read until the sequence is ranged over, and every range runs the query again.
// A store error is yielded once as the final pair.
func (q Query) All(ctx context.Context) iter.Seq2[*models.Conversation, error] {
	return func(yield func(*models.Conversation, error) bool) {
		stopped := false
		err := q.repo.Iterate(ctx, q.filter, func(c *models.Conversation) bool {
			if !yield(c, nil) {
				stopped = true
				return false
			}
			return true
		})
		if err != nil && !stopped {
			yield(nil, err)
		}
	}
}

// Collect drains All into a slice
func (q Query) Collect(ctx context.Context) ([]*models.Conversation, error) {
	var out []*models.Conversation
	for c, err := range q.All(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

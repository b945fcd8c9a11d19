package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"school-portal/backend/conversation/events"
	"school-portal/backend/conversation/models"
	"school-portal/backend/conversation/repository"
	"school-portal/backend/pkg/lock"
	"school-portal/backend/pkg/logger"
	"school-portal/backend/shared/observability"
)

// Actor is the identity on whose behalf an operation runs
type Actor struct {
	ID   string
	Role models.Role
}

// IsAdmin reports whether the actor may act on any conversation
func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// Validator checks a proposed conversation state before it is committed
type Validator interface {
	Validate(ctx context.Context, c *models.Conversation) error
}

// errNoChange aborts a mutation that would leave the conversation untouched
var errNoChange = errors.New("no change")

type access int

const (
	// accessParticipate allows the owner, participants and admins
	accessParticipate access = iota
	// accessManage allows the owner and admins
	accessManage
)

// Options tunes a ConversationService. Zero values fall back to defaults.
type Options struct {
	Locker     lock.Locker
	Publisher  events.Publisher
	Metrics    *observability.Metrics
	Logger     *logger.Logger
	Clock      func() time.Time
	MaxRetries int
	// ArchiveBatchSize bounds how many ids a single bulk archive statement carries
	ArchiveBatchSize int
	// PublishTimeout bounds how long a committed mutation waits on the event publisher
	PublishTimeout time.Duration
}

// ConversationService applies every conversation mutation as
// lock, read, validate the proposed state, derive aggregates, compare-and-swap.
type ConversationService struct {
	repo       repository.ConversationRepository
	validator  Validator
	locker     lock.Locker
	publisher  events.Publisher
	metrics    *observability.Metrics
	log        *logger.Logger
	tracer     trace.Tracer
	now        func() time.Time
	maxRetries int
	batchSize  int
	publishTTL time.Duration
}

func NewConversationService(repo repository.ConversationRepository, validator Validator, opts Options) *ConversationService {
	s := &ConversationService{
		repo:       repo,
		validator:  validator,
		locker:     opts.Locker,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		tracer:     observability.Tracer(),
		now:        opts.Clock,
		maxRetries: opts.MaxRetries,
		batchSize:  opts.ArchiveBatchSize,
		publishTTL: opts.PublishTimeout,
	}
	if s.locker == nil {
		s.locker = lock.NewKeyedMutex()
	}
	if s.publisher == nil {
		s.publisher = events.NopPublisher{}
	}
	if s.log == nil {
		s.log = logger.GetGlobal()
	}
	if s.now == nil {
		s.now = defaultClock
	}
	if s.maxRetries <= 0 {
		s.maxRetries = 3
	}
	if s.batchSize <= 0 {
		s.batchSize = 500
	}
	if s.publishTTL <= 0 {
		s.publishTTL = 2 * time.Second
	}
	return s
}

// defaultClock truncates to milliseconds so timestamps survive a round trip through any store
func defaultClock() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// CreateInput describes a new conversation
type CreateInput struct {
	// UserID lets an admin open a conversation on behalf of someone else
	UserID       string         `json:"user,omitempty"`
	Context      models.Context `json:"context"`
	Title        string         `json:"title,omitempty"`
	Status       models.Status  `json:"status,omitempty"`
	Participants []string       `json:"participants,omitempty"`
	Tags         []string       `json:"tags,omitempty"`
}

// MessageInput describes a message to append
type MessageInput struct {
	ClientMessageID string              `json:"clientMessageId,omitempty"`
	Content         string              `json:"content"`
	Sender          models.Sender       `json:"sender"`
	SenderID        string              `json:"senderId,omitempty"`
	SenderModel     models.SenderModel  `json:"senderModel,omitempty"`
	MessageType     models.MessageType  `json:"messageType,omitempty"`
	Attachments     []models.Attachment `json:"attachments,omitempty"`
	Intent          string              `json:"intent,omitempty"`
	Confidence      *float64            `json:"confidence,omitempty"`
	Entities        []models.Entity     `json:"entities,omitempty"`
}

func (s *ConversationService) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span, time.Time) {
	ctx, span := s.tracer.Start(ctx, "conversation."+op, trace.WithAttributes(attrs...))
	return ctx, span, time.Now()
}

func (s *ConversationService) endSpan(ctx context.Context, span trace.Span, op string, start time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.metrics.ObserveOperation(ctx, op, start, err)
}

// Create opens a new conversation owned by the actor
func (s *ConversationService) Create(ctx context.Context, actor Actor, in CreateInput) (c *models.Conversation, err error) {
	ctx, span, start := s.startSpan(ctx, "create", attribute.String("actor.id", actor.ID))
	defer func() { s.endSpan(ctx, span, "create", start, err) }()

	owner := actor.ID
	if in.UserID != "" && in.UserID != actor.ID {
		if !actor.IsAdmin() {
			return nil, fmt.Errorf("create conversation for %s: %w", in.UserID, models.ErrForbidden)
		}
		owner = in.UserID
	}

	now := s.now()
	c = &models.Conversation{
		ID:       uuid.NewString(),
		User:     owner,
		Context:  in.Context,
		Title:    in.Title,
		Status:   in.Status,
		Messages: models.MessageLog{},
	}
	c.Context.Normalize()
	c.ApplyDefaults(now)
	c.AddParticipants(in.Participants)
	c.SetTags(in.Tags)
	models.Recompute(c)

	if err := s.validator.Validate(ctx, c); err != nil {
		s.rejected(ctx, "create", err)
		return nil, err
	}
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("conversation created",
		"conversation_id", c.ID,
		"user_id", c.User,
		"role", c.Context.Role,
	)
	return c, nil
}

// Get loads a conversation regardless of who asks
func (s *ConversationService) Get(ctx context.Context, id string) (*models.Conversation, error) {
	return s.repo.GetByID(ctx, id)
}

// GetFor loads a conversation the actor is allowed to see. Anyone else gets NotFound.
func (s *ConversationService) GetFor(ctx context.Context, actor Actor, id string) (*models.Conversation, error) {
	c, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canAccess(actor, c, accessParticipate) {
		return nil, fmt.Errorf("conversation %s: %w", id, models.ErrNotFound)
	}
	return c, nil
}

func canAccess(actor Actor, c *models.Conversation, level access) bool {
	if actor.IsAdmin() || c.User == actor.ID {
		return true
	}
	return level == accessParticipate && c.IsParticipant(actor.ID)
}

// AppendMessage adds a message to the conversation. A repeated ClientMessageID is a no-op
// that returns the current state.
func (s *ConversationService) AppendMessage(ctx context.Context, actor Actor, id string, in MessageInput) (c *models.Conversation, err error) {
	ctx, span, start := s.startSpan(ctx, "append_message",
		attribute.String("conversation.id", id), attribute.String("message.sender", string(in.Sender)))
	defer func() { s.endSpan(ctx, span, "append_message", start, err) }()

	switch in.Sender {
	case models.SenderUser:
		if in.SenderID == "" {
			in.SenderID = actor.ID
		}
		if in.SenderModel == "" {
			in.SenderModel = models.SenderModelUser
		}
		if in.SenderID != actor.ID && !actor.IsAdmin() {
			return nil, fmt.Errorf("post as %s: %w", in.SenderID, models.ErrForbidden)
		}
	case models.SenderBot, models.SenderSystem:
		// assistant and system records come from the backend's service account
		if !actor.IsAdmin() {
			return nil, fmt.Errorf("post %s message: %w", in.Sender, models.ErrForbidden)
		}
	}

	var appended *models.Message
	c, err = s.mutate(ctx, "append_message", actor, id, accessParticipate, func(c *models.Conversation, now time.Time) error {
		if c.Messages.IndexOfClientID(in.ClientMessageID) >= 0 {
			return errNoChange
		}
		m, err := c.AppendMessage(models.Message{
			ID:              uuid.NewString(),
			ClientMessageID: in.ClientMessageID,
			Content:         in.Content,
			Sender:          in.Sender,
			SenderID:        in.SenderID,
			SenderModel:     in.SenderModel,
			MessageType:     in.MessageType,
			Attachments:     in.Attachments,
			Intent:          in.Intent,
			Confidence:      in.Confidence,
			Entities:        in.Entities,
		}, now)
		if err != nil {
			return err
		}
		appended = m
		return nil
	})
	if err != nil || appended == nil {
		return c, err
	}

	s.metrics.MessageAppended(ctx, string(appended.Sender))
	s.publish(ctx, events.Event{
		Type:           events.TypeMessageAppended,
		ConversationID: c.ID,
		UserID:         c.User,
		ActorID:        actor.ID,
		OccurredAt:     appended.Timestamp,
		Payload: events.MessageAppended{
			MessageID:   appended.ID,
			Sender:      string(appended.Sender),
			MessageType: string(appended.MessageType),
			UnreadCount: c.UnreadCount(),
		},
	})
	return c, nil
}

// MarkRead flags the given messages as read. Unknown and already-read ids are ignored.
func (s *ConversationService) MarkRead(ctx context.Context, actor Actor, id string, messageIDs []string) (c *models.Conversation, err error) {
	ctx, span, start := s.startSpan(ctx, "mark_read", attribute.String("conversation.id", id))
	defer func() { s.endSpan(ctx, span, "mark_read", start, err) }()

	return s.mutate(ctx, "mark_read", actor, id, accessManage, func(c *models.Conversation, _ time.Time) error {
		if c.MarkRead(messageIDs) == 0 {
			return errNoChange
		}
		return nil
	})
}

// SetStatus moves the conversation to any of the four states
func (s *ConversationService) SetStatus(ctx context.Context, actor Actor, id string, status models.Status) (c *models.Conversation, err error) {
	ctx, span, start := s.startSpan(ctx, "set_status",
		attribute.String("conversation.id", id), attribute.String("status", string(status)))
	defer func() { s.endSpan(ctx, span, "set_status", start, err) }()

	var from models.Status
	c, err = s.mutate(ctx, "set_status", actor, id, accessManage, func(c *models.Conversation, _ time.Time) error {
		if c.Status == status {
			return errNoChange
		}
		from = c.Status
		c.Status = status
		return nil
	})
	if err != nil || from == "" {
		return c, err
	}

	s.publish(ctx, events.Event{
		Type:           events.TypeStatusChanged,
		ConversationID: c.ID,
		UserID:         c.User,
		ActorID:        actor.ID,
		OccurredAt:     c.UpdatedAt,
		Payload:        events.StatusChanged{From: string(from), To: string(status)},
	})
	return c, nil
}

// SetContext merges patch into the context and re-validates the whole document
func (s *ConversationService) SetContext(ctx context.Context, actor Actor, id string, patch models.ContextPatch) (c *models.Conversation, err error) {
	ctx, span, start := s.startSpan(ctx, "set_context", attribute.String("conversation.id", id))
	defer func() { s.endSpan(ctx, span, "set_context", start, err) }()

	return s.mutate(ctx, "set_context", actor, id, accessManage, func(c *models.Conversation, _ time.Time) error {
		c.MergeContext(patch)
		return nil
	})
}

// AddParticipants grants other actors access to the conversation
func (s *ConversationService) AddParticipants(ctx context.Context, actor Actor, id string, ids []string) (*models.Conversation, error) {
	return s.mutate(ctx, "add_participants", actor, id, accessManage, func(c *models.Conversation, _ time.Time) error {
		if c.AddParticipants(ids) == 0 {
			return errNoChange
		}
		return nil
	})
}

// RemoveParticipants revokes access from the given actors
func (s *ConversationService) RemoveParticipants(ctx context.Context, actor Actor, id string, ids []string) (*models.Conversation, error) {
	return s.mutate(ctx, "remove_participants", actor, id, accessManage, func(c *models.Conversation, _ time.Time) error {
		if c.RemoveParticipants(ids) == 0 {
			return errNoChange
		}
		return nil
	})
}

// SetTags replaces the tag set
func (s *ConversationService) SetTags(ctx context.Context, actor Actor, id string, tags []string) (*models.Conversation, error) {
	return s.mutate(ctx, "set_tags", actor, id, accessManage, func(c *models.Conversation, _ time.Time) error {
		c.SetTags(tags)
		return nil
	})
}

// SetAnalytics records sentiment and response-time analytics. Nil leaves a value unchanged.
func (s *ConversationService) SetAnalytics(ctx context.Context, actor Actor, id string, sentimentScore, averageResponseTime *float64) (*models.Conversation, error) {
	return s.mutate(ctx, "set_analytics", actor, id, accessManage, func(c *models.Conversation, _ time.Time) error {
		if sentimentScore == nil && averageResponseTime == nil {
			return errNoChange
		}
		if sentimentScore != nil {
			v := *sentimentScore
			c.SentimentScore = &v
		}
		if averageResponseTime != nil {
			v := *averageResponseTime
			c.AverageResponseTime = &v
		}
		return nil
	})
}

// mutate serializes writers on the conversation, applies fn to a private copy, derives
// aggregates, validates the proposed state and commits it with a version check. A version
// conflict from another process restarts from a fresh read.
func (s *ConversationService) mutate(
	ctx context.Context,
	op string,
	actor Actor,
	id string,
	level access,
	fn func(c *models.Conversation, now time.Time) error,
) (*models.Conversation, error) {
	unlock, err := s.locker.Lock(ctx, "conversation:"+id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		cur, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if !canAccess(actor, cur, level) {
			return nil, fmt.Errorf("%s on conversation %s: %w", op, id, models.ErrForbidden)
		}

		next := cur.Clone()
		now := s.now()
		if err := fn(next, now); err != nil {
			if errors.Is(err, errNoChange) {
				return cur, nil
			}
			s.rejected(ctx, op, err)
			return nil, err
		}
		models.Recompute(next)
		next.UpdatedAt = now

		if err := s.validator.Validate(ctx, next); err != nil {
			s.rejected(ctx, op, err)
			return nil, err
		}

		err = s.repo.Update(ctx, next)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, models.ErrConflict) {
			return nil, err
		}

		s.metrics.Conflict(ctx, op)
		logger.FromContext(ctx).Debug("version conflict, retrying",
			"operation", op,
			"conversation_id", id,
			"attempt", attempt+1,
		)
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 5 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("%s on conversation %s after %d attempts: %w", op, id, s.maxRetries+1, models.ErrConflict)
}

func (s *ConversationService) rejected(ctx context.Context, op string, err error) {
	if errors.Is(err, models.ErrValidation) || errors.Is(err, models.ErrCapacityExceeded) {
		s.metrics.ValidationFailed(ctx, op)
	}
}

// publish hands events to the bus after commit. A failure does not undo the change.
// publish runs after commit, so it outlives a cancelled request but never waits past publishTTL
func (s *ConversationService) publish(ctx context.Context, evs ...events.Event) {
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.publishTTL)
	defer cancel()
	if err := s.publisher.Publish(pctx, evs...); err != nil {
		logger.FromContext(ctx).LogError(err, "failed to publish events", "count", len(evs), "type", evs[0].Type)
	}
}

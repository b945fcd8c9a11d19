package service

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"school-portal/backend/conversation/events"
	"school-portal/backend/conversation/models"
	"school-portal/backend/conversation/repository"
	"school-portal/backend/conversation/validation"
	"school-portal/backend/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 4, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc    *ConversationService
	repo   *repository.MemoryRepository
	events *events.MemoryPublisher
	clock  *fakeClock
}

func newFixture(t *testing.T, opts ...func(*Options)) *fixture {
	t.Helper()
	f := &fixture{
		repo:   repository.NewMemoryRepository(),
		events: &events.MemoryPublisher{},
		clock:  newFakeClock(),
	}
	o := Options{
		Publisher: f.events,
		Logger:    logger.Discard(),
		Clock:     f.clock.Now,
	}
	for _, fn := range opts {
		fn(&o)
	}
	f.svc = NewConversationService(f.repo, validation.NewEngine(repository.NewStaticClassroomDirectory("room-1")), o)
	return f
}

var (
	student = Actor{ID: "stu-1", Role: models.RoleStudent}
	teacher = Actor{ID: "tch-1", Role: models.RoleTeacher}
	admin   = Actor{ID: "adm-1", Role: models.RoleAdmin}
)

func (f *fixture) create(t *testing.T, actor Actor, ctx models.Context) *models.Conversation {
	t.Helper()
	c, err := f.svc.Create(context.Background(), actor, CreateInput{Context: ctx})
	require.NoError(t, err)
	return c
}

func studentContext() models.Context {
	return models.Context{Role: models.RoleStudent, Grade: "10"}
}

func botReply(content string) MessageInput {
	return MessageInput{Content: content, Sender: models.SenderBot, SenderID: "B1", SenderModel: models.SenderModelBot}
}

func userSays(content string) MessageInput {
	return MessageInput{Content: content, Sender: models.SenderUser}
}

func assertDerived(t *testing.T, c *models.Conversation) {
	t.Helper()
	system := 0
	for _, m := range c.Messages {
		if m.Sender == models.SenderSystem {
			system++
		}
	}
	assert.Equal(t, c.Messages.Len(), c.MessageCount.User+c.MessageCount.Bot+system)
	if last := c.LastMessage(); last != nil {
		assert.Equal(t, last.Timestamp, c.LastActive)
	}
}

func TestCreate_AppliesDefaults(t *testing.T) {
	f := newFixture(t)

	c := f.create(t, student, models.Context{Role: models.RoleStudent, Grade: " 10 ", Subjects: []string{" math ", ""}})

	assert.Equal(t, student.ID, c.User)
	assert.Equal(t, models.StatusActive, c.Status)
	assert.Equal(t, "10", c.Context.Grade)
	assert.Equal(t, []string{"math"}, []string(c.Context.Subjects))
	assert.Equal(t, "Conversation with student", c.Title)
	assert.Equal(t, f.clock.Now(), c.LastActive)
	assert.Equal(t, 1, f.repo.Len())
}

func TestCreate_OnBehalfOfOthers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Create(ctx, teacher, CreateInput{UserID: student.ID, Context: studentContext()})
	assert.ErrorIs(t, err, models.ErrForbidden)

	c, err := f.svc.Create(ctx, admin, CreateInput{UserID: student.ID, Context: studentContext()})
	require.NoError(t, err)
	assert.Equal(t, student.ID, c.User)
}

func TestCreate_RejectsInvalidContext(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), teacher, CreateInput{
		Context: models.Context{Role: models.RoleTeacher, Grade: "10", Classroom: "room-404"},
	})

	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.ElementsMatch(t, []string{"context.grade", "context.classroom"}, ve.Fields())
	assert.Zero(t, f.repo.Len())
}

func TestAppendMessage_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())

	_, err := f.svc.AppendMessage(ctx, student, c.ID, userSays("Hi"))
	require.NoError(t, err)
	f.clock.Advance(time.Second)

	c, err = f.svc.AppendMessage(ctx, admin, c.ID, botReply("Hello!"))
	require.NoError(t, err)

	assert.Equal(t, models.MessageCount{User: 1, Bot: 1}, c.MessageCount)
	assert.Equal(t, 1, c.UnreadCount())
	assert.Equal(t, c.Messages.Last().Timestamp, c.LastActive)
	assert.Equal(t, f.clock.Now(), c.LastActive)
	assert.Equal(t, "Hello!", c.LastMessage().Content)

	appended := f.events.OfType(events.TypeMessageAppended)
	require.Len(t, appended, 2)
	assert.Equal(t, 1, appended[1].Payload.(events.MessageAppended).UnreadCount)
}

func TestAppendMessage_BotAndSystemNeedAdmin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())
	_, err := f.svc.AddParticipants(ctx, student, c.ID, []string{teacher.ID})
	require.NoError(t, err)

	system := MessageInput{Content: "session started", Sender: models.SenderSystem}
	for _, actor := range []Actor{student, teacher} {
		_, err = f.svc.AppendMessage(ctx, actor, c.ID, botReply("forged"))
		assert.ErrorIs(t, err, models.ErrForbidden)
		_, err = f.svc.AppendMessage(ctx, actor, c.ID, system)
		assert.ErrorIs(t, err, models.ErrForbidden)
	}

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Messages.Len())
	assert.Zero(t, got.UnreadCount())

	got, err = f.svc.AppendMessage(ctx, admin, c.ID, botReply("real"))
	require.NoError(t, err)
	assert.Equal(t, 1, got.MessageCount.Bot)
}

func TestAppendMessage_DefaultsUserIdentity(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, student, studentContext())

	c, err := f.svc.AppendMessage(context.Background(), student, c.ID, userSays("  what is pi?  "))
	require.NoError(t, err)

	m := c.LastMessage()
	assert.Equal(t, student.ID, m.SenderID)
	assert.Equal(t, models.SenderModelUser, m.SenderModel)
	assert.Equal(t, "what is pi?", m.Content)
	assert.NotEmpty(t, m.ID)
	assert.Equal(t, int64(1), c.Version)
}

func TestAppendMessage_AccessControl(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())

	in := userSays("hi")
	in.SenderID = "someone-else"
	_, err := f.svc.AppendMessage(ctx, student, c.ID, in)
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.AppendMessage(ctx, teacher, c.ID, userSays("hello"))
	assert.ErrorIs(t, err, models.ErrForbidden)

	_, err = f.svc.AddParticipants(ctx, student, c.ID, []string{teacher.ID})
	require.NoError(t, err)
	c, err = f.svc.AppendMessage(ctx, teacher, c.ID, userSays("hello"))
	require.NoError(t, err)
	assert.Equal(t, teacher.ID, c.LastMessage().SenderID)

	_, err = f.svc.AppendMessage(ctx, student, "missing", userSays("hi"))
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAppendMessage_RejectsInvalidMessage(t *testing.T) {
	f := newFixture(t)
	c := f.create(t, student, studentContext())

	_, err := f.svc.AppendMessage(context.Background(), student, c.ID, userSays("   "))

	var ve *models.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"messages[0].content"}, ve.Fields())

	got, err := f.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Zero(t, got.Messages.Len())
	assert.Zero(t, got.Version)
}

func TestAppendMessage_ClientMessageIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())

	in := userSays("retry me")
	in.ClientMessageID = "client-42"

	first, err := f.svc.AppendMessage(ctx, student, c.ID, in)
	require.NoError(t, err)
	second, err := f.svc.AppendMessage(ctx, student, c.ID, in)
	require.NoError(t, err)

	assert.Equal(t, 1, second.Messages.Len())
	assert.Equal(t, first.Version, second.Version)
	assert.Len(t, f.events.OfType(events.TypeMessageAppended), 1)
}

func TestAppendMessage_CapacityExceeded(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())

	for i := 0; i < models.MaxMessages; i++ {
		_, err := f.svc.AppendMessage(ctx, admin, c.ID, botReply(fmt.Sprintf("msg %d", i)))
		require.NoError(t, err)
	}

	_, err := f.svc.AppendMessage(ctx, student, c.ID, userSays("one too many"))
	assert.ErrorIs(t, err, models.ErrCapacityExceeded)

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MaxMessages, got.Messages.Len())
	assertDerived(t, got)
}

func TestAppendMessage_ConcurrentWritersAllLand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())

	const writers = 25
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.AppendMessage(ctx, admin, c.ID, botReply(fmt.Sprintf("reply %d", i)))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := f.svc.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, got.Messages.Len())
	assert.Equal(t, writers, got.MessageCount.Bot)
	assert.Equal(t, int64(writers), got.Version)
	assertDerived(t, got)
}

// conflictingRepo fails the first n updates with a version conflict
type conflictingRepo struct {
	*repository.MemoryRepository
	remaining atomic.Int32
	updates   atomic.Int32
}

func (r *conflictingRepo) Update(ctx context.Context, c *models.Conversation) error {
	r.updates.Add(1)
	if r.remaining.Add(-1) >= 0 {
		return fmt.Errorf("conversation %s: %w", c.ID, models.ErrConflict)
	}
	return r.MemoryRepository.Update(ctx, c)
}

func TestMutate_RetriesVersionConflicts(t *testing.T) {
	repo := &conflictingRepo{MemoryRepository: repository.NewMemoryRepository()}
	repo.remaining.Store(2)
	svc := NewConversationService(repo, validation.NewEngine(nil), Options{Logger: logger.Discard(), MaxRetries: 3})
	ctx := context.Background()

	c, err := svc.Create(ctx, student, CreateInput{Context: studentContext()})
	require.NoError(t, err)

	c, err = svc.AppendMessage(ctx, admin, c.ID, botReply("eventually"))
	require.NoError(t, err)
	assert.Equal(t, 1, c.Messages.Len())
	assert.Equal(t, int32(3), repo.updates.Load())
}

func TestMutate_GivesUpAfterMaxRetries(t *testing.T) {
	repo := &conflictingRepo{MemoryRepository: repository.NewMemoryRepository()}
	repo.remaining.Store(100)
	svc := NewConversationService(repo, validation.NewEngine(nil), Options{Logger: logger.Discard(), MaxRetries: 2})
	ctx := context.Background()

	c, err := svc.Create(ctx, student, CreateInput{Context: studentContext()})
	require.NoError(t, err)

	_, err = svc.AppendMessage(ctx, admin, c.ID, botReply("never"))
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, int32(3), repo.updates.Load())
}

func TestMarkRead(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())

	c, err := f.svc.AppendMessage(ctx, admin, c.ID, botReply("one"))
	require.NoError(t, err)
	c, err = f.svc.AppendMessage(ctx, admin, c.ID, botReply("two"))
	require.NoError(t, err)
	first := c.Messages.At(0).ID
	require.Equal(t, 2, c.UnreadCount())

	c, err = f.svc.MarkRead(ctx, student, c.ID, []string{first})
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount())
	assert.Equal(t, models.MessageRead, c.Messages.At(0).Status)
	version := c.Version

	c, err = f.svc.MarkRead(ctx, student, c.ID, []string{first, "unknown"})
	require.NoError(t, err)
	assert.Equal(t, 1, c.UnreadCount())
	assert.Equal(t, version, c.Version)

	_, err = f.svc.AddParticipants(ctx, student, c.ID, []string{teacher.ID})
	require.NoError(t, err)
	_, err = f.svc.MarkRead(ctx, teacher, c.ID, []string{c.Messages.At(1).ID})
	assert.ErrorIs(t, err, models.ErrForbidden)
}

func TestSetContext_GradeFollowsRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, teacher, models.Context{Role: models.RoleTeacher})

	toStudent := models.RoleStudent
	_, err := f.svc.SetContext(ctx, teacher, c.ID, models.ContextPatch{Role: &toStudent})
	assert.ErrorIs(t, err, models.ErrValidation)

	toTeacher := models.RoleTeacher
	subjects := []string{"physics"}
	c, err = f.svc.SetContext(ctx, teacher, c.ID, models.ContextPatch{Role: &toTeacher, Subjects: &subjects})
	require.NoError(t, err)
	assert.Equal(t, []string{"physics"}, []string(c.Context.Subjects))

	grade := "11"
	c, err = f.svc.SetContext(ctx, teacher, c.ID, models.ContextPatch{Role: &toStudent, Grade: &grade})
	require.NoError(t, err)
	assert.Equal(t, models.RoleStudent, c.Context.Role)
}

func TestSetStatus_PublishesTransitions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())

	c, err := f.svc.SetStatus(ctx, student, c.ID, models.StatusResolved)
	require.NoError(t, err)
	assert.Equal(t, models.StatusResolved, c.Status)

	_, err = f.svc.SetStatus(ctx, student, c.ID, models.StatusResolved)
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, student, c.ID, "deleted")
	assert.ErrorIs(t, err, models.ErrValidation)

	changed := f.events.OfType(events.TypeStatusChanged)
	require.Len(t, changed, 1)
	assert.Equal(t, events.StatusChanged{From: "active", To: "resolved"}, changed[0].Payload)
}

func TestSetStatus_UnknownConversation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.SetStatus(context.Background(), student, "missing", models.StatusArchived)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Empty(t, f.events.OfType(events.TypeStatusChanged))
}

func TestTagsAndAnalytics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())

	c, err := f.svc.SetTags(ctx, student, c.ID, []string{"Homework", "homework", " urgent "})
	require.NoError(t, err)
	assert.Equal(t, []string{"homework", "urgent"}, []string(c.Tags))

	score, rt := 0.4, 12.5
	c, err = f.svc.SetAnalytics(ctx, admin, c.ID, &score, &rt)
	require.NoError(t, err)
	assert.Equal(t, 0.4, *c.SentimentScore)
	assert.Equal(t, 12.5, *c.AverageResponseTime)

	bad := -2.0
	_, err = f.svc.SetAnalytics(ctx, admin, c.ID, &bad, nil)
	assert.ErrorIs(t, err, models.ErrValidation)
}

func TestGetFor_HidesForeignConversations(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := f.create(t, student, studentContext())

	_, err := f.svc.GetFor(ctx, teacher, c.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = f.svc.GetFor(ctx, admin, c.ID)
	assert.NoError(t, err)

	_, err = f.svc.GetFor(ctx, student, c.ID)
	assert.NoError(t, err)
}

// stalledPublisher blocks until its context ends, like a writer facing an unreachable broker
type stalledPublisher struct {
	calls    atomic.Int32
	deadline atomic.Bool
}

func (p *stalledPublisher) Publish(ctx context.Context, _ ...events.Event) error {
	p.calls.Add(1)
	_, ok := ctx.Deadline()
	p.deadline.Store(ok)
	<-ctx.Done()
	return ctx.Err()
}

func (p *stalledPublisher) Close() error { return nil }

func TestPublish_BoundedWhenBrokerStalls(t *testing.T) {
	pub := &stalledPublisher{}
	f := newFixture(t, func(o *Options) {
		o.Publisher = pub
		o.PublishTimeout = 20 * time.Millisecond
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c, err := f.svc.Create(ctx, student, CreateInput{Context: studentContext()})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.AppendMessage(ctx, student, c.ID, userSays("anyone there?"))
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("append waited on the stalled publisher")
	}

	assert.Equal(t, int32(1), pub.calls.Load())
	assert.True(t, pub.deadline.Load())

	got, err := f.svc.Get(context.Background(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Messages.Len())
}

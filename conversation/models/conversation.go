package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Context describes who the conversation is with and in which school setting
type Context struct {
	Role       Role                        `json:"role" bson:"role" gorm:"type:varchar(16);index"`
	Grade      string                      `json:"grade,omitempty" bson:"grade,omitempty" gorm:"type:varchar(16)"`
	Subjects   datatypes.JSONSlice[string] `json:"subjects,omitempty" bson:"subjects,omitempty"`
	Classroom  string                      `json:"classroom,omitempty" bson:"classroom,omitempty" gorm:"type:varchar(64)"`
	SchoolYear string                      `json:"schoolYear,omitempty" bson:"schoolYear,omitempty" gorm:"type:varchar(32)"`
	Language   string                      `json:"language" bson:"language" gorm:"type:varchar(8);default:en"`
}

// Normalize trims every text field and drops blank subjects
func (c *Context) Normalize() {
	c.Grade = strings.TrimSpace(c.Grade)
	c.Classroom = strings.TrimSpace(c.Classroom)
	c.SchoolYear = strings.TrimSpace(c.SchoolYear)
	c.Language = strings.TrimSpace(c.Language)
	if c.Subjects != nil {
		c.Subjects = datatypes.JSONSlice[string](trimAll(c.Subjects))
	}
}

// ContextPatch carries a partial context update. Nil fields are left unchanged;
// a pointer to the empty string clears the field.
type ContextPatch struct {
	Role       *Role     `json:"role,omitempty"`
	Grade      *string   `json:"grade,omitempty"`
	Subjects   *[]string `json:"subjects,omitempty"`
	Classroom  *string   `json:"classroom,omitempty"`
	SchoolYear *string   `json:"schoolYear,omitempty"`
	Language   *string   `json:"language,omitempty"`
}

// MessageCount holds the derived per-sender tallies
type MessageCount struct {
	User int `json:"user" bson:"user"`
	Bot  int `json:"bot" bson:"bot"`
}

// Conversation is one actor's thread with the school assistant, including its message log
type Conversation struct {
	ID                  string                      `json:"id" bson:"_id" gorm:"primaryKey;type:varchar(36)"`
	User                string                      `json:"user" bson:"user" gorm:"column:user_id;type:varchar(64);not null;index"`
	Context             Context                     `json:"context" bson:"context" gorm:"embedded;embeddedPrefix:context_"`
	Messages            MessageLog                  `json:"messages" bson:"messages" gorm:"type:jsonb"`
	Title               string                      `json:"title" bson:"title" gorm:"type:varchar(100)"`
	Status              Status                      `json:"status" bson:"status" gorm:"type:varchar(16);index;default:active"`
	LastActive          time.Time                   `json:"lastActive" bson:"lastActive" gorm:"index"`
	Participants        datatypes.JSONSlice[string] `json:"participants" bson:"participants"`
	Tags                datatypes.JSONSlice[string] `json:"tags" bson:"tags"`
	SentimentScore      *float64                    `json:"sentimentScore,omitempty" bson:"sentimentScore,omitempty"`
	MessageCount        MessageCount                `json:"messageCount" bson:"messageCount" gorm:"embedded;embeddedPrefix:message_count_"`
	AverageResponseTime *float64                    `json:"averageResponseTime,omitempty" bson:"averageResponseTime,omitempty"`
	Version             int64                       `json:"version" bson:"version" gorm:"not null;default:0"`
	CreatedAt           time.Time                   `json:"createdAt" bson:"createdAt"`
	UpdatedAt           time.Time                   `json:"updatedAt" bson:"updatedAt"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// UnreadCount counts messages not yet read by the owner. Messages the owner sent are never unread.
func (c *Conversation) UnreadCount() int {
	n := 0
	for i := range c.Messages {
		if c.Messages[i].Unread() {
			n++
		}
	}
	return n
}

// LastMessage returns the newest message or nil
func (c *Conversation) LastMessage() *Message {
	return c.Messages.Last()
}

// HasUnread reports whether UnreadCount would be non-zero, without a full scan
func (c *Conversation) HasUnread() bool {
	for i := range c.Messages {
		if c.Messages[i].Unread() {
			return true
		}
	}
	return false
}

// IsParticipant reports whether id is the owner or a listed participant
func (c *Conversation) IsParticipant(id string) bool {
	if c.User == id {
		return true
	}
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy suitable for building a proposed next state
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = c.Messages.Clone()
	out.Context.Subjects = cloneStrings(c.Context.Subjects)
	out.Participants = cloneStrings(c.Participants)
	out.Tags = cloneStrings(c.Tags)
	if c.SentimentScore != nil {
		v := *c.SentimentScore
		out.SentimentScore = &v
	}
	if c.AverageResponseTime != nil {
		v := *c.AverageResponseTime
		out.AverageResponseTime = &v
	}
	return &out
}

// ApplyDefaults fills in fields the caller may omit on creation
func (c *Conversation) ApplyDefaults(now time.Time) {
	if c.Status == "" {
		c.Status = StatusActive
	}
	if c.Context.Language == "" {
		c.Context.Language = DefaultLanguage
	}
	c.Title = strings.TrimSpace(c.Title)
	if c.Title == "" {
		c.Title = DefaultTitle(c.Context.Role)
	}
	if c.LastActive.IsZero() {
		c.LastActive = now
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	if c.Participants == nil {
		c.Participants = datatypes.JSONSlice[string]{}
	}
	if c.Tags == nil {
		c.Tags = datatypes.JSONSlice[string]{}
	}
	c.Tags = NormalizeTags(c.Tags)
	c.Participants = c.normalizeParticipants(c.Participants)
}

// DefaultTitle is the title given to a conversation created without one
func DefaultTitle(role Role) string {
	return "Conversation with " + string(role)
}

// AppendMessage stamps m with the aggregate clock, adds it to the log and recomputes aggregates.
// Timestamps never go backwards within a log, so a skewed clock cannot reorder history.
func (c *Conversation) AppendMessage(m Message, now time.Time) (*Message, error) {
	if c.Messages.Full() {
		return nil, ErrCapacityExceeded
	}
	if last := c.Messages.Last(); last != nil && now.Before(last.Timestamp) {
		now = last.Timestamp
	}
	m.Timestamp = now
	m.Content = strings.TrimSpace(m.Content)
	if m.Status == "" {
		m.Status = MessageSent
	}
	if m.MessageType == "" {
		m.MessageType = MessageTypeText
	}
	i, err := c.Messages.Append(m)
	if err != nil {
		return nil, err
	}
	Recompute(c)
	return c.Messages.At(i), nil
}

// MarkRead flags the addressed messages as read and returns how many changed.
// Unknown ids and already-read messages are skipped.
func (c *Conversation) MarkRead(ids []string) int {
	want := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	changed := 0
	for i := range c.Messages {
		m := &c.Messages[i]
		if _, ok := want[m.ID]; !ok {
			continue
		}
		if m.Read && m.Status == MessageRead {
			continue
		}
		m.Read = true
		m.Status = MessageRead
		changed++
	}
	return changed
}

// MergeContext applies a partial update to the context
func (c *Conversation) MergeContext(p ContextPatch) {
	if p.Role != nil {
		c.Context.Role = *p.Role
	}
	if p.Grade != nil {
		c.Context.Grade = strings.TrimSpace(*p.Grade)
	}
	if p.Subjects != nil {
		c.Context.Subjects = datatypes.JSONSlice[string](trimAll(*p.Subjects))
	}
	if p.Classroom != nil {
		c.Context.Classroom = strings.TrimSpace(*p.Classroom)
	}
	if p.SchoolYear != nil {
		c.Context.SchoolYear = strings.TrimSpace(*p.SchoolYear)
	}
	if p.Language != nil {
		c.Context.Language = strings.TrimSpace(*p.Language)
	}
}

// AddParticipants merges ids into the participant set, returning how many were new
func (c *Conversation) AddParticipants(ids []string) int {
	before := len(c.Participants)
	c.Participants = c.normalizeParticipants(append(cloneStrings(c.Participants), ids...))
	return len(c.Participants) - before
}

// RemoveParticipants drops ids from the participant set, returning how many were removed
func (c *Conversation) RemoveParticipants(ids []string) int {
	drop := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		drop[strings.TrimSpace(id)] = struct{}{}
	}
	kept := make(datatypes.JSONSlice[string], 0, len(c.Participants))
	for _, p := range c.Participants {
		if _, ok := drop[p]; !ok {
			kept = append(kept, p)
		}
	}
	removed := len(c.Participants) - len(kept)
	c.Participants = kept
	return removed
}

// SetTags replaces the tag set with the normalized form of tags
func (c *Conversation) SetTags(tags []string) {
	c.Tags = NormalizeTags(tags)
}

func (c *Conversation) normalizeParticipants(ids []string) datatypes.JSONSlice[string] {
	seen := make(map[string]struct{}, len(ids))
	out := make(datatypes.JSONSlice[string], 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || id == c.User {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NormalizeTags lower-cases and trims tags, dropping empties and duplicates while keeping first-seen order
func NormalizeTags(tags []string) datatypes.JSONSlice[string] {
	seen := make(map[string]struct{}, len(tags))
	out := make(datatypes.JSONSlice[string], 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cloneStrings[S ~[]string](in S) S {
	if in == nil {
		return nil
	}
	return append(S(nil), in...)
}

// View is the rendered form of a conversation, with derived fields filled in
type View struct {
	*Conversation
	UnreadCount int      `json:"unreadCount"`
	LastMessage *Message `json:"lastMessage"`
}

// NewView snapshots the derived fields of c
func NewView(c *Conversation) View {
	return View{
		Conversation: c,
		UnreadCount:  c.UnreadCount(),
		LastMessage:  c.LastMessage(),
	}
}

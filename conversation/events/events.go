package events

import (
	"context"
	"sync"
	"time"
)

// Event types published to collaborators such as the notification subsystem
const (
	TypeMessageAppended      = "message.appended"
	TypeStatusChanged        = "status.changed"
	TypeConversationArchived = "conversation.archived"
)

// Event is the envelope written to the bus. Payload is type specific.
type Event struct {
	Type           string    `json:"type"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	ActorID        string    `json:"actorId,omitempty"`
	OccurredAt     time.Time `json:"occurredAt"`
	Payload        any       `json:"payload,omitempty"`
}

// MessageAppended is the payload of TypeMessageAppended
type MessageAppended struct {
	MessageID   string `json:"messageId"`
	Sender      string `json:"sender"`
	MessageType string `json:"messageType"`
	UnreadCount int    `json:"unreadCount"`
}

// StatusChanged is the payload of TypeStatusChanged
type StatusChanged struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Publisher delivers events after the change they describe has been committed
type Publisher interface {
	Publish(ctx context.Context, events ...Event) error
	Close() error
}

// NopPublisher drops every event
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...Event) error { return nil }
func (NopPublisher) Close() error                            { return nil }

// MemoryPublisher records events in order
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *MemoryPublisher) Publish(_ context.Context, events ...Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, events...)
	return nil
}

func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of everything published so far
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// OfType returns the recorded events with the given type
func (p *MemoryPublisher) OfType(t string) []Event {
	var out []Event
	for _, e := range p.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

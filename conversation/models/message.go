package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Attachment is a file or media reference carried by a message
type Attachment struct {
	URL       string `json:"url" bson:"url"`
	Name      string `json:"name,omitempty" bson:"name,omitempty"`
	Size      int64  `json:"size,omitempty" bson:"size,omitempty"`
	MimeType  string `json:"mimeType,omitempty" bson:"mimeType,omitempty"`
	Thumbnail string `json:"thumbnail,omitempty" bson:"thumbnail,omitempty"`
}

// Entity is a slot extracted by the bot from a user utterance
type Entity struct {
	Entity     string  `json:"entity" bson:"entity"`
	Value      string  `json:"value" bson:"value"`
	Confidence float64 `json:"confidence" bson:"confidence"`
}

// Message is one entry in a conversation's message log.
// Timestamp is assigned when the message is appended and never changes afterwards;
// only Read and Status move after that.
type Message struct {
	ID              string        `json:"id" bson:"id"`
	ClientMessageID string        `json:"clientMessageId,omitempty" bson:"clientMessageId,omitempty"`
	Content         string        `json:"content" bson:"content"`
	Sender          Sender        `json:"sender" bson:"sender"`
	SenderID        string        `json:"senderId,omitempty" bson:"senderId,omitempty"`
	SenderModel     SenderModel   `json:"senderModel,omitempty" bson:"senderModel,omitempty"`
	Timestamp       time.Time     `json:"timestamp" bson:"timestamp"`
	Read            bool          `json:"read" bson:"read"`
	Status          MessageStatus `json:"status" bson:"status"`
	MessageType     MessageType   `json:"messageType" bson:"messageType"`
	Attachments     []Attachment  `json:"attachments,omitempty" bson:"attachments,omitempty"`

	// Bot-only fields
	Intent     string   `json:"intent,omitempty" bson:"intent,omitempty"`
	Confidence *float64 `json:"confidence,omitempty" bson:"confidence,omitempty"`
	Entities   []Entity `json:"entities,omitempty" bson:"entities,omitempty"`
}

// Unread reports whether the message counts towards the owner's unread total
func (m *Message) Unread() bool {
	return !m.Read && m.Sender != SenderUser
}

// clone returns a copy that shares no slices or pointers with m
func (m Message) clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	if m.Entities != nil {
		m.Entities = append([]Entity(nil), m.Entities...)
	}
	if m.Confidence != nil {
		c := *m.Confidence
		m.Confidence = &c
	}
	return m
}

// MessageLog is the ordered, bounded sequence of messages owned by a conversation.
// Insertion order is the read order; entries are addressed by index.
type MessageLog []Message

// Len returns the number of messages in the log
func (l MessageLog) Len() int { return len(l) }

// Full reports whether the log has reached MaxMessages
func (l MessageLog) Full() bool { return len(l) >= MaxMessages }

// At returns a pointer to the i-th message, or nil when out of range
func (l MessageLog) At(i int) *Message {
	if i < 0 || i >= len(l) {
		return nil
	}
	return &l[i]
}

// Last returns the newest message, or nil for an empty log
func (l MessageLog) Last() *Message {
	return l.At(len(l) - 1)
}

// IndexOf returns the index of the message with the given id, or -1
func (l MessageLog) IndexOf(id string) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

// IndexOfClientID returns the index of the message carrying the given idempotency key, or -1
func (l MessageLog) IndexOfClientID(clientID string) int {
	if clientID == "" {
		return -1
	}
	for i := range l {
		if l[i].ClientMessageID == clientID {
			return i
		}
	}
	return -1
}

// Append adds m at the end of the log and returns its index.
// It fails with ErrCapacityExceeded once the log holds MaxMessages entries.
func (l *MessageLog) Append(m Message) (int, error) {
	if l.Full() {
		return -1, ErrCapacityExceeded
	}
	if *l == nil {
		*l = make(MessageLog, 0, 16)
	}
	*l = append(*l, m)
	return len(*l) - 1, nil
}

// Clone deep-copies the log
func (l MessageLog) Clone() MessageLog {
	if l == nil {
		return nil
	}
	out := make(MessageLog, len(l), cap(l))
	for i := range l {
		out[i] = l[i].clone()
	}
	return out
}

// GormDataType stores the log as a single JSON document column
func (MessageLog) GormDataType() string {
	return "jsonb"
}

// Value implements driver.Valuer
func (l MessageLog) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]Message(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner
func (l *MessageLog) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		*l = nil
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New(fmt.Sprint("failed to unmarshal message log value: ", value))
	}
	var out []Message
	if err := json.Unmarshal(raw, &out); err != nil {
		return err
	}
	*l = MessageLog(out)
	return nil
}

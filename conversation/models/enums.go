package models

// Sender identifies the author class of a message
type Sender string

const (
	SenderUser   Sender = "user"
	SenderBot    Sender = "bot"
	SenderSystem Sender = "system"
)

// SenderModel names the collection a senderId points into
type SenderModel string

const (
	SenderModelUser SenderModel = "User"
	SenderModelBot  SenderModel = "Bot"
)

// MessageStatus tracks delivery of a single message
type MessageStatus string

const (
	MessageSent      MessageStatus = "sent"
	MessageDelivered MessageStatus = "delivered"
	MessageRead      MessageStatus = "read"
	MessageFailed    MessageStatus = "failed"
)

// MessageType describes the payload kind of a message
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeLink   MessageType = "link"
	MessageTypeSystem MessageType = "system"
)

// Role is the school role of the conversation owner
type Role string

const (
	RoleStudent Role = "student"
	RoleTeacher Role = "teacher"
	RoleAdmin   Role = "admin"
	RoleParent  Role = "parent"
)

// Status is the lifecycle state of a conversation
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusResolved Status = "resolved"
	StatusPending  Status = "pending"
)

// Accepted enumerations, in the order they are reported in validation messages.
var (
	Senders         = []string{string(SenderUser), string(SenderBot), string(SenderSystem)}
	SenderModels    = []string{string(SenderModelUser), string(SenderModelBot)}
	MessageStatuses = []string{string(MessageSent), string(MessageDelivered), string(MessageRead), string(MessageFailed)}
	MessageTypes    = []string{
		string(MessageTypeText), string(MessageTypeImage), string(MessageTypeFile),
		string(MessageTypeLink), string(MessageTypeSystem),
	}
	Roles     = []string{string(RoleStudent), string(RoleTeacher), string(RoleAdmin), string(RoleParent)}
	Statuses  = []string{string(StatusActive), string(StatusArchived), string(StatusResolved), string(StatusPending)}
	Grades    = []string{"9", "10", "11", "12", "college", "other"}
	Languages = []string{"en", "es", "fr", "de"}
)

// DefaultLanguage is applied when a context is created without a language
const DefaultLanguage = "en"

// Limits on the conversation document.
const (
	MaxMessages       = 1000
	MaxContentLength  = 2000
	MaxTitleLength    = 100
	MaxSubjects       = 10
	DefaultArchiveAge = 30
)

// OneOf reports whether v is among allowed
func OneOf(v string, allowed []string) bool {
	for _, a := range allowed {
		if a == v {
			return true
		}
	}
	return false
}

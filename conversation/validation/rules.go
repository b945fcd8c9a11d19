package validation

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"school-portal/backend/conversation/models"
)

// Predicate decides whether a rule applies to the proposed document
type Predicate func(c *models.Conversation) bool

// Constraint returns a non-empty reason when the rule is broken.
// A non-nil error means the rule could not be evaluated at all.
type Constraint func(ctx context.Context, c *models.Conversation) (string, error)

// Rule is one row of the conversation rule table: {field, predicate-on-siblings, constraint}
type Rule struct {
	Field string
	Name  string
	When  Predicate
	Check Constraint
}

// MessageRule is evaluated once per message in the log
type MessageRule struct {
	Field string
	Name  string
	When  func(m *models.Message) bool
	Check func(m *models.Message) string
}

// Rule names reported in violations
const (
	RuleRequired  = "required"
	RuleForbidden = "forbidden"
	RuleEnum      = "enum"
	RuleMaxLength = "maxLength"
	RuleMinLength = "minLength"
	RuleMaxItems  = "maxItems"
	RuleRange     = "range"
	RuleReference = "reference"
)

func isStudent(c *models.Conversation) bool    { return c.Context.Role == models.RoleStudent }
func isNotStudent(c *models.Conversation) bool { return c.Context.Role != models.RoleStudent }
func hasClassroom(c *models.Conversation) bool { return c.Context.Classroom != "" }

func check(fn func(c *models.Conversation) string) Constraint {
	return func(_ context.Context, c *models.Conversation) (string, error) {
		return fn(c), nil
	}
}

func enumReason(v string, allowed []string) string {
	if models.OneOf(v, allowed) {
		return ""
	}
	return fmt.Sprintf("%q is not one of [%s]", v, strings.Join(allowed, ", "))
}

// ConversationRules builds the document-level rule table. dir resolves classroom references.
func ConversationRules(dir ClassroomDirectory) []Rule {
	rules := []Rule{
		{Field: "user", Name: RuleRequired, Check: check(func(c *models.Conversation) string {
			if strings.TrimSpace(c.User) == "" {
				return "user is required"
			}
			return ""
		})},
		{Field: "context.role", Name: RuleRequired, Check: check(func(c *models.Conversation) string {
			if c.Context.Role == "" {
				return "role is required"
			}
			return ""
		})},
		{Field: "context.role", Name: RuleEnum, When: func(c *models.Conversation) bool { return c.Context.Role != "" },
			Check: check(func(c *models.Conversation) string {
				return enumReason(string(c.Context.Role), models.Roles)
			})},
		{Field: "context.grade", Name: RuleRequired, When: isStudent, Check: check(func(c *models.Conversation) string {
			if c.Context.Grade == "" {
				return "grade is required when role is student"
			}
			return ""
		})},
		{Field: "context.grade", Name: RuleForbidden, When: isNotStudent, Check: check(func(c *models.Conversation) string {
			if c.Context.Grade != "" {
				return "grade is only allowed when role is student"
			}
			return ""
		})},
		{Field: "context.grade", Name: RuleEnum, When: func(c *models.Conversation) bool { return c.Context.Grade != "" },
			Check: check(func(c *models.Conversation) string {
				return enumReason(c.Context.Grade, models.Grades)
			})},
		{Field: "context.subjects", Name: RuleMaxItems, Check: check(func(c *models.Conversation) string {
			if n := len(c.Context.Subjects); n > models.MaxSubjects {
				return fmt.Sprintf("at most %d subjects allowed, got %d", models.MaxSubjects, n)
			}
			return ""
		})},
		{Field: "context.language", Name: RuleEnum, Check: check(func(c *models.Conversation) string {
			return enumReason(c.Context.Language, models.Languages)
		})},
		{Field: "messages", Name: RuleMaxItems, Check: check(func(c *models.Conversation) string {
			if n := c.Messages.Len(); n > models.MaxMessages {
				return fmt.Sprintf("at most %d messages allowed, got %d", models.MaxMessages, n)
			}
			return ""
		})},
		{Field: "title", Name: RuleMaxLength, Check: check(func(c *models.Conversation) string {
			if n := utf8.RuneCountInString(c.Title); n > models.MaxTitleLength {
				return fmt.Sprintf("title exceeds %d characters", models.MaxTitleLength)
			}
			return ""
		})},
		{Field: "status", Name: RuleEnum, Check: check(func(c *models.Conversation) string {
			return enumReason(string(c.Status), models.Statuses)
		})},
		{Field: "sentimentScore", Name: RuleRange, When: func(c *models.Conversation) bool { return c.SentimentScore != nil },
			Check: check(func(c *models.Conversation) string {
				if s := *c.SentimentScore; s < -1 || s > 1 {
					return fmt.Sprintf("sentiment score %g is outside [-1, 1]", s)
				}
				return ""
			})},
		{Field: "averageResponseTime", Name: RuleRange, When: func(c *models.Conversation) bool { return c.AverageResponseTime != nil },
			Check: check(func(c *models.Conversation) string {
				if *c.AverageResponseTime < 0 {
					return "average response time cannot be negative"
				}
				return ""
			})},
	}

	if dir != nil {
		rules = append(rules, Rule{
			Field: "context.classroom",
			Name:  RuleReference,
			When:  hasClassroom,
			Check: func(ctx context.Context, c *models.Conversation) (string, error) {
				ok, err := dir.Exists(ctx, c.Context.Classroom)
				if err != nil {
					return "", fmt.Errorf("resolve classroom %s: %w", c.Context.Classroom, err)
				}
				if !ok {
					return fmt.Sprintf("classroom %s does not exist", c.Context.Classroom), nil
				}
				return "", nil
			},
		})
	}
	return rules
}

func isBot(m *models.Message) bool { return m.Sender == models.SenderBot }

// MessageRules builds the per-message rule table
func MessageRules() []MessageRule {
	return []MessageRule{
		{Field: "content", Name: RuleMinLength, Check: func(m *models.Message) string {
			if strings.TrimSpace(m.Content) == "" {
				return "content is required"
			}
			return ""
		}},
		{Field: "content", Name: RuleMaxLength, Check: func(m *models.Message) string {
			if utf8.RuneCountInString(strings.TrimSpace(m.Content)) > models.MaxContentLength {
				return fmt.Sprintf("content exceeds %d characters", models.MaxContentLength)
			}
			return ""
		}},
		{Field: "sender", Name: RuleEnum, Check: func(m *models.Message) string {
			return enumReason(string(m.Sender), models.Senders)
		}},
		{Field: "senderId", Name: RuleRequired, When: func(m *models.Message) bool { return m.Sender == models.SenderUser },
			Check: func(m *models.Message) string {
				if m.SenderID == "" {
					return "senderId is required for user messages"
				}
				return ""
			}},
		{Field: "senderModel", Name: RuleRequired,
			When: func(m *models.Message) bool { return m.Sender == models.SenderUser || m.Sender == models.SenderBot },
			Check: func(m *models.Message) string {
				if m.SenderModel == "" {
					return "senderModel is required for user and bot messages"
				}
				return ""
			}},
		{Field: "senderModel", Name: RuleEnum, When: func(m *models.Message) bool { return m.SenderModel != "" },
			Check: func(m *models.Message) string {
				return enumReason(string(m.SenderModel), models.SenderModels)
			}},
		{Field: "status", Name: RuleEnum, Check: func(m *models.Message) string {
			return enumReason(string(m.Status), models.MessageStatuses)
		}},
		{Field: "messageType", Name: RuleEnum, Check: func(m *models.Message) string {
			return enumReason(string(m.MessageType), models.MessageTypes)
		}},
		{Field: "attachments", Name: RuleRequired, When: func(m *models.Message) bool { return len(m.Attachments) > 0 },
			Check: func(m *models.Message) string {
				for i, a := range m.Attachments {
					if strings.TrimSpace(a.URL) == "" {
						return fmt.Sprintf("attachment %d has no url", i)
					}
					if a.Size < 0 {
						return fmt.Sprintf("attachment %d has a negative size", i)
					}
				}
				return ""
			}},
		{Field: "confidence", Name: RuleRange, When: func(m *models.Message) bool { return m.Confidence != nil },
			Check: func(m *models.Message) string {
				if c := *m.Confidence; c < 0 || c > 1 {
					return fmt.Sprintf("confidence %g is outside [0, 1]", c)
				}
				return ""
			}},
		{Field: "entities", Name: RuleRange, When: func(m *models.Message) bool { return len(m.Entities) > 0 },
			Check: func(m *models.Message) string {
				for i, e := range m.Entities {
					if e.Confidence < 0 || e.Confidence > 1 {
						return fmt.Sprintf("entity %d confidence %g is outside [0, 1]", i, e.Confidence)
					}
				}
				return ""
			}},
		{Field: "intent", Name: RuleForbidden, When: func(m *models.Message) bool { return !isBot(m) },
			Check: func(m *models.Message) string {
				if m.Intent != "" || m.Confidence != nil || len(m.Entities) > 0 {
					return "intent, confidence and entities are only set on bot messages"
				}
				return ""
			}},
	}
}

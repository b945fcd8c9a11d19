package validation

import (
	"context"
	"fmt"

	"school-portal/backend/conversation/models"
)

// ClassroomDirectory answers whether a classroom reference resolves
type ClassroomDirectory interface {
	Exists(ctx context.Context, id string) (bool, error)
}

// Engine evaluates the full rule table against a proposed conversation state
type Engine struct {
	rules    []Rule
	messages []MessageRule
}

// NewEngine builds an engine with the standard rule tables. A nil directory skips classroom resolution.
func NewEngine(dir ClassroomDirectory) *Engine {
	return &Engine{
		rules:    ConversationRules(dir),
		messages: MessageRules(),
	}
}

// NewEngineWithRules builds an engine over custom rule tables
func NewEngineWithRules(rules []Rule, messages []MessageRule) *Engine {
	return &Engine{rules: rules, messages: messages}
}

// Validate checks every rule against c. Every violation is collected into a single
// *models.ValidationError; other errors mean a rule could not be evaluated.
func (e *Engine) Validate(ctx context.Context, c *models.Conversation) error {
	var violations []models.Violation
	for _, r := range e.rules {
		if r.When != nil && !r.When(c) {
			continue
		}
		reason, err := r.Check(ctx, c)
		if err != nil {
			return err
		}
		if reason != "" {
			violations = append(violations, models.Violation{Field: r.Field, Rule: r.Name, Message: reason})
		}
	}
	for i := range c.Messages {
		violations = append(violations, e.messageViolations(fmt.Sprintf("messages[%d].", i), &c.Messages[i])...)
	}
	if len(violations) > 0 {
		return &models.ValidationError{Violations: violations}
	}
	return nil
}

// ValidateMessage checks a single message record in isolation
func (e *Engine) ValidateMessage(m *models.Message) error {
	if v := e.messageViolations("", m); len(v) > 0 {
		return &models.ValidationError{Violations: v}
	}
	return nil
}

func (e *Engine) messageViolations(prefix string, m *models.Message) []models.Violation {
	var out []models.Violation
	for _, r := range e.messages {
		if r.When != nil && !r.When(m) {
			continue
		}
		if reason := r.Check(m); reason != "" {
			out = append(out, models.Violation{Field: prefix + r.Field, Rule: r.Name, Message: reason})
		}
	}
	return out
}

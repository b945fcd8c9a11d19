package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation matches any *ValidationError through errors.Is
	ErrValidation = errors.New("validation failed")
	// ErrCapacityExceeded is returned when appending to a full message log
	ErrCapacityExceeded = fmt.Errorf("conversation holds the maximum of %d messages", MaxMessages)
	ErrNotFound         = errors.New("not found")
	// ErrConflict means a concurrent writer won the version race and retries ran out
	ErrConflict  = errors.New("concurrent modification, retry")
	ErrForbidden = errors.New("forbidden")
)

// Violation is one broken rule
type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError carries every rule violated by a proposed state
type ValidationError struct {
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.Field+": "+v.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

// Fields returns the distinct violated field paths in reporting order
func (e *ValidationError) Fields() []string {
	seen := make(map[string]struct{}, len(e.Violations))
	out := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		if _, ok := seen[v.Field]; ok {
			continue
		}
		seen[v.Field] = struct{}{}
		out = append(out, v.Field)
	}
	return out
}

// NewValidationError wraps a single violation
func NewValidationError(field, rule, message string) *ValidationError {
	return &ValidationError{Violations: []Violation{{Field: field, Rule: rule, Message: message}}}
}

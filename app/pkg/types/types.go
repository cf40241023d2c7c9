package types

import (
	"errors"
	"strings"
)

// Category selects the handler responsible for a task.
type Category string

const (
	CategoryCode       Category = "code"
	CategoryContent    Category = "content"
	CategoryBusiness   Category = "business"
	CategorySummary    Category = "summary"
	CategoryTranslate  Category = "translate"
	CategoryEmail      Category = "email"
	CategoryData       Category = "data"
	CategoryCompetitor Category = "competitor"
)

// Categories returns every routable category in a stable order.
func Categories() []Category {
	return []Category{
		CategoryCode,
		CategoryContent,
		CategoryBusiness,
		CategorySummary,
		CategoryTranslate,
		CategoryEmail,
		CategoryData,
		CategoryCompetitor,
	}
}

// ParseCategory maps a raw string to a known category.
func ParseCategory(raw string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range Categories() {
		if c == known {
			return known, true
		}
	}
	return "", false
}

// Message roles for conversation history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is one role-tagged entry in a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Status is the lifecycle state of a task record.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether a task in this status will never change again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo enforces the monotonic lifecycle:
// pending -> processing -> {completed, failed}. A record never re-enters
// pending and terminal states never change.
func (s Status) CanTransitionTo(next Status) bool {
	if s == next {
		return true
	}
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCompleted || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	}
	return false
}

// ErrEmptyTask rejects submissions whose task text is empty after trimming.
// Validation happens before classification ever runs.
var ErrEmptyTask = errors.New("task text is required")

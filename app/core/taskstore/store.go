// Package taskstore persists task records with a bounded lifetime. The
// durable backend is sqlite; when it cannot be opened the process degrades to
// a non-durable in-memory store with the same interface.
package taskstore

import (
	"context"
	"errors"
	"time"

	"peeragent/app/pkg/logger"
	"peeragent/app/pkg/types"
)

var (
	// ErrNotFound means the record does not exist or has expired.
	ErrNotFound = errors.New("task record not found")
	// ErrUnavailable means the backing store could not serve the call.
	ErrUnavailable = errors.New("task store unavailable")
	// ErrInvalidTransition means an update tried to move a record's status
	// backwards or out of a terminal state.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Record is one stored task. Records are written with a TTL and disappear
// from reads once it elapses.
type Record struct {
	ID          string                 `json:"id"`
	SessionID   string                 `json:"session_id,omitempty"`
	Text        string                 `json:"text"`
	Category    types.Category         `json:"category,omitempty"`
	Status      types.Status           `json:"status"`
	Result      map[string]interface{} `json:"result,omitempty"`
	Error       string                 `json:"error,omitempty"`
	Meta        map[string]interface{} `json:"meta,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// ListOptions filters and pages List results.
type ListOptions struct {
	Limit  int
	Offset int
	// Status filters to a single status when non-empty.
	Status types.Status
}

// Stats summarizes the live contents of the store.
type Stats struct {
	Backend  string               `json:"backend"`
	Total    int                  `json:"total"`
	ByStatus map[types.Status]int `json:"by_status"`
}

// Store is the task record store. Update merges the given fields over the
// stored record and preserves its remaining TTL; it never overwrites fields
// it was not asked to change.
type Store interface {
	Create(ctx context.Context, record *Record) error
	Get(ctx context.Context, id string) (*Record, error)
	Update(ctx context.Context, id string, fields map[string]interface{}) (*Record, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context, opts ListOptions) ([]*Record, error)
	ListSession(ctx context.Context, sessionID string) ([]*Record, error)
	Cleanup(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}

// Open returns the sqlite-backed store, or the in-memory fallback when the
// database cannot be opened.
func Open(dataDir string, ttl time.Duration) Store {
	store, err := NewSQLiteStore(dataDir, ttl)
	if err != nil {
		logger.Warn("Task store unavailable, using in-memory fallback: %v", err)
		return NewMemoryStore(ttl)
	}
	return store
}

func validateTransition(current, next types.Status) error {
	if current == next {
		return nil
	}
	if !next.Valid() || !current.CanTransitionTo(next) {
		return ErrInvalidTransition
	}
	return nil
}

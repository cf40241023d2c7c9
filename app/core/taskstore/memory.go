package taskstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tidwall/sjson"

	"peeragent/app/pkg/types"
)

type memoryEntry struct {
	doc       string
	expiresAt time.Time
}

// MemoryStore is the non-durable fallback used when sqlite cannot be opened.
// It mirrors SQLiteStore's merge and TTL semantics but loses everything on
// restart.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*memoryEntry
	// index tracks ids ordered by creation; rows can outlive their entry
	// until Cleanup runs, matching the durable store's drift behavior.
	index map[string]indexRow
	ttl   time.Duration
}

type indexRow struct {
	sessionID string
	status    types.Status
	createdAt int64
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryStore{
		entries: make(map[string]*memoryEntry),
		index:   make(map[string]indexRow),
		ttl:     ttl,
	}
}

func (m *MemoryStore) Create(ctx context.Context, record *Record) error {
	if record == nil || record.ID == "" {
		return fmt.Errorf("record id is required")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	if record.Status == "" {
		record.Status = types.StatusPending
	}

	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[record.ID] = &memoryEntry{doc: string(doc), expiresAt: time.Now().Add(m.ttl)}
	m.index[record.ID] = indexRow{
		sessionID: record.SessionID,
		status:    record.Status,
		createdAt: record.CreatedAt.UnixNano(),
	}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	m.mu.RLock()
	entry := m.entries[id]
	m.mu.RUnlock()

	if entry == nil || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}
	return decodeRecord(entry.doc)
}

func (m *MemoryStore) Update(ctx context.Context, id string, fields map[string]interface{}) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry := m.entries[id]
	if entry == nil || time.Now().After(entry.expiresAt) {
		return nil, ErrNotFound
	}

	current, err := decodeRecord(entry.doc)
	if err != nil {
		return nil, err
	}
	if raw, ok := fields["status"]; ok {
		next := types.Status(fmt.Sprint(raw))
		if err := validateTransition(current.Status, next); err != nil {
			return nil, err
		}
	}

	doc := entry.doc
	for key, value := range fields {
		doc, err = sjson.Set(doc, key, value)
		if err != nil {
			return nil, fmt.Errorf("failed to merge field %q: %w", key, err)
		}
	}

	updated, err := decodeRecord(doc)
	if err != nil {
		return nil, err
	}

	entry.doc = doc
	if row, ok := m.index[id]; ok && updated.Status != row.status {
		row.status = updated.Status
		m.index[id] = row
	}
	return updated, nil
}

func (m *MemoryStore) Delete(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, existed := m.entries[id]
	delete(m.entries, id)
	delete(m.index, id)
	return existed, nil
}

func (m *MemoryStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	records, err := m.liveRecords(func(row indexRow) bool {
		return opts.Status == "" || row.status == opts.Status
	})
	if err != nil {
		return nil, err
	}

	if opts.Offset >= len(records) {
		return nil, nil
	}
	records = records[opts.Offset:]
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *MemoryStore) ListSession(ctx context.Context, sessionID string) ([]*Record, error) {
	return m.liveRecords(func(row indexRow) bool {
		return row.sessionID == sessionID
	})
}

func (m *MemoryStore) liveRecords(match func(indexRow) bool) ([]*Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type candidate struct {
		doc       string
		createdAt int64
	}
	var candidates []candidate
	now := time.Now()
	for id, row := range m.index {
		if !match(row) {
			continue
		}
		entry := m.entries[id]
		if entry == nil || now.After(entry.expiresAt) {
			continue
		}
		candidates = append(candidates, candidate{doc: entry.doc, createdAt: row.createdAt})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].createdAt > candidates[j].createdAt
	})

	var out []*Record
	for _, c := range candidates {
		record, err := decodeRecord(c.doc)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	return out, nil
}

func (m *MemoryStore) Cleanup(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for id, entry := range m.entries {
		if now.After(entry.expiresAt) {
			delete(m.entries, id)
		}
	}

	reaped := 0
	for id := range m.index {
		if _, ok := m.entries[id]; !ok {
			delete(m.index, id)
			reaped++
		}
	}
	return reaped, nil
}

func (m *MemoryStore) Stats(ctx context.Context) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{Backend: "memory", ByStatus: map[types.Status]int{}}
	now := time.Now()
	for id, row := range m.index {
		entry := m.entries[id]
		if entry == nil || now.After(entry.expiresAt) {
			continue
		}
		stats.ByStatus[row.status]++
		stats.Total++
	}
	return stats, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

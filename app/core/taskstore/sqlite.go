package taskstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/tidwall/sjson"
	_ "modernc.org/sqlite"

	"peeragent/app/pkg/types"
)

const currentSchemaVersion = 1

// SQLiteStore keeps each record as a JSON document with an absolute expiry,
// plus a separate index table that backs listing and filtering. The two
// tables can drift when a record expires; Cleanup reaps the stale index rows.
type SQLiteStore struct {
	conn *sql.DB
	ttl  time.Duration
}

func NewSQLiteStore(dataDir string, ttl time.Duration) (*SQLiteStore, error) {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	dbPath := filepath.Join(dataDir, "peeragent.db")
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}

	store := &SQLiteStore{conn: conn, ttl: ttl}
	if err := store.initSchema(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to init schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initSchema() error {
	tx, err := s.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_meta (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		return err
	}

	version, err := readSchemaVersion(tx)
	if err != nil {
		return err
	}
	if version > currentSchemaVersion {
		return fmt.Errorf("db schema version %d is newer than runtime version %d", version, currentSchemaVersion)
	}

	if version < 1 {
		if err := migrateToRecordSchema(tx); err != nil {
			return fmt.Errorf("migrate schema %d -> 1: %w", version, err)
		}
		if err := writeSchemaVersion(tx, 1); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func readSchemaVersion(tx *sql.Tx) (int, error) {
	var versionText string
	err := tx.QueryRow(`SELECT value FROM schema_meta WHERE key = 'schema_version'`).Scan(&versionText)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	version, parseErr := strconv.Atoi(versionText)
	if parseErr != nil {
		return 0, fmt.Errorf("parse schema version %q: %w", versionText, parseErr)
	}
	if version < 0 {
		return 0, fmt.Errorf("invalid schema version %d", version)
	}
	return version, nil
}

func writeSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec(`
INSERT INTO schema_meta (key, value) VALUES ('schema_version', ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, strconv.Itoa(version))
	return err
}

func migrateToRecordSchema(tx *sql.Tx) error {
	createRecords := `
CREATE TABLE IF NOT EXISTS task_records (
	id TEXT PRIMARY KEY,
	doc TEXT NOT NULL,
	expires_at INTEGER NOT NULL
);`
	if _, err := tx.Exec(createRecords); err != nil {
		return err
	}

	createIndex := `
CREATE TABLE IF NOT EXISTS task_index (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL
);`
	if _, err := tx.Exec(createIndex); err != nil {
		return err
	}

	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_task_index_created ON task_index(created_at DESC)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_task_index_session ON task_index(session_id, created_at DESC)`); err != nil {
		return err
	}
	if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_task_records_expires ON task_records(expires_at)`); err != nil {
		return err
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, record *Record) error {
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
	expiresAt := time.Now().Add(s.ttl).UnixMilli()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_records (id, doc, expires_at) VALUES (?, ?, ?)`,
		record.ID, string(doc), expiresAt); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO task_index (id, session_id, status, created_at) VALUES (?, ?, ?, ?)`,
		record.ID, record.SessionID, string(record.Status), record.CreatedAt.UnixNano()); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	var doc string
	err := s.conn.QueryRowContext(ctx,
		`SELECT doc FROM task_records WHERE id = ? AND expires_at > ?`,
		id, time.Now().UnixMilli()).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return decodeRecord(doc)
}

// Update merges fields over the stored document. The record's remaining TTL
// is preserved so repeated updates cannot keep an abandoned task alive past
// its original deadline.
func (s *SQLiteStore) Update(ctx context.Context, id string, fields map[string]interface{}) (*Record, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	var doc string
	var expiresAt int64
	err = tx.QueryRowContext(ctx,
		`SELECT doc, expires_at FROM task_records WHERE id = ?`, id).Scan(&doc, &expiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	now := time.Now().UnixMilli()
	if expiresAt <= now {
		return nil, ErrNotFound
	}

	current, err := decodeRecord(doc)
	if err != nil {
		return nil, err
	}

	if raw, ok := fields["status"]; ok {
		next := types.Status(fmt.Sprint(raw))
		if err := validateTransition(current.Status, next); err != nil {
			return nil, err
		}
	}

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

	if _, err := tx.ExecContext(ctx,
		`UPDATE task_records SET doc = ?, expires_at = ? WHERE id = ?`,
		doc, expiresAt, id); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if updated.Status != current.Status {
		if _, err := tx.ExecContext(ctx,
			`UPDATE task_index SET status = ? WHERE id = ?`,
			string(updated.Status), id); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return updated, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM task_records WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	affected, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM task_index WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return affected > 0, nil
}

func (s *SQLiteStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}

	query := `
SELECT r.doc FROM task_index i
JOIN task_records r ON r.id = i.id
WHERE r.expires_at > ?`
	args := []interface{}{time.Now().UnixMilli()}
	if opts.Status != "" {
		query += ` AND i.status = ?`
		args = append(args, string(opts.Status))
	}
	query += ` ORDER BY i.created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, opts.Offset)

	return s.queryRecords(ctx, query, args...)
}

func (s *SQLiteStore) ListSession(ctx context.Context, sessionID string) ([]*Record, error) {
	query := `
SELECT r.doc FROM task_index i
JOIN task_records r ON r.id = i.id
WHERE r.expires_at > ? AND i.session_id = ?
ORDER BY i.created_at DESC`
	return s.queryRecords(ctx, query, time.Now().UnixMilli(), sessionID)
}

func (s *SQLiteStore) queryRecords(ctx context.Context, query string, args ...interface{}) ([]*Record, error) {
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		record, err := decodeRecord(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// Cleanup drops expired records and then every index row whose backing
// record is gone. The returned count is the number of reaped index rows.
func (s *SQLiteStore) Cleanup(ctx context.Context) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM task_records WHERE expires_at <= ?`, time.Now().UnixMilli()); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	res, err := tx.ExecContext(ctx,
		`DELETE FROM task_index WHERE id NOT IN (SELECT id FROM task_records)`)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	reaped, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return int(reaped), nil
}

func (s *SQLiteStore) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: "sqlite", ByStatus: map[types.Status]int{}}

	rows, err := s.conn.QueryContext(ctx, `
SELECT i.status, COUNT(*) FROM task_index i
JOIN task_records r ON r.id = i.id
WHERE r.expires_at > ?
GROUP BY i.status`, time.Now().UnixMilli())
	if err != nil {
		return stats, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return stats, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		stats.ByStatus[types.Status(status)] = count
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return stats, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return stats, nil
}

func (s *SQLiteStore) Close() error {
	return s.conn.Close()
}

func decodeRecord(doc string) (*Record, error) {
	var record Record
	if err := json.Unmarshal([]byte(doc), &record); err != nil {
		return nil, fmt.Errorf("failed to decode record: %w", err)
	}
	return &record, nil
}

// Package offline keeps content and ledger mutations usable on a device
// without network access: a sqlite-backed content cache and a durable FIFO
// queue of mutations waiting for acknowledgment.
package offline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
)

// ══════════════════════════════════════════════════════════════════════════════
// TYPES
// ══════════════════════════════════════════════════════════════════════════════

// MutationStatus is the queue state of a pending mutation.
type MutationStatus string

const (
	// StatusPending: waiting for (re)delivery.
	StatusPending MutationStatus = "pending"

	// StatusRejected: the server refused it permanently. Kept for the user,
	// never retried and never silently dropped.
	StatusRejected MutationStatus = "rejected"
)

// ContentEntry is one cached content item. Payload is opaque.
type ContentEntry struct {
	ID       string
	Payload  []byte
	CachedAt time.Time
}

// PendingMutation is one queued ledger mutation intent.
type PendingMutation struct {
	Seq           int64
	MutationID    string
	Kind          progress.MutationKind
	Payload       json.RawMessage
	CreatedAt     time.Time
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	Status        MutationStatus
}

// Timestamps are stored as unix milliseconds.
type contentRow struct {
	ID       string `db:"id"`
	Payload  []byte `db:"payload"`
	CachedAt int64  `db:"cached_at"`
}

type mutationRow struct {
	Seq           int64          `db:"seq"`
	MutationID    string         `db:"mutation_id"`
	Kind          string         `db:"kind"`
	Payload       []byte         `db:"payload"`
	CreatedAt     int64          `db:"created_at"`
	AttemptCount  int            `db:"attempt_count"`
	NextAttemptAt int64          `db:"next_attempt_at"`
	LastError     sql.NullString `db:"last_error"`
	Status        string         `db:"status"`
}

func (r mutationRow) toPending() PendingMutation {
	return PendingMutation{
		Seq:           r.Seq,
		MutationID:    r.MutationID,
		Kind:          progress.MutationKind(r.Kind),
		Payload:       json.RawMessage(r.Payload),
		CreatedAt:     fromMillis(r.CreatedAt),
		AttemptCount:  r.AttemptCount,
		NextAttemptAt: fromMillis(r.NextAttemptAt),
		LastError:     r.LastError.String,
		Status:        MutationStatus(r.Status),
	}
}

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

// ══════════════════════════════════════════════════════════════════════════════
// STORE
// ══════════════════════════════════════════════════════════════════════════════

const schema = `
CREATE TABLE IF NOT EXISTS content_cache (
	id        TEXT PRIMARY KEY,
	payload   BLOB NOT NULL,
	cached_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS mutation_queue (
	seq             INTEGER PRIMARY KEY AUTOINCREMENT,
	mutation_id     TEXT NOT NULL UNIQUE,
	kind            TEXT NOT NULL,
	payload         BLOB NOT NULL,
	created_at      INTEGER NOT NULL,
	attempt_count   INTEGER NOT NULL DEFAULT 0,
	next_attempt_at INTEGER NOT NULL DEFAULT 0,
	last_error      TEXT,
	status          TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'rejected'))
);

CREATE INDEX IF NOT EXISTS idx_mutation_queue_status ON mutation_queue(status, seq);
`

// ErrNotCached is returned when the content id has no local entry.
var ErrNotCached = errors.New("content not cached")

// Store is the device-local durable store.
type Store struct {
	db *sqlx.DB
}

// Open opens (creating if needed) the store at path. ":memory:" is accepted
// for tests.
func Open(path string) (*Store, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
		dsn = "file:" + path + "?_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open offline store: %w", err)
	}

	// Single writer per device; one connection also keeps :memory: shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init offline schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─────────────────────────────────────────────────────────────────────────────
// Content cache
// ─────────────────────────────────────────────────────────────────────────────

// PutContent writes the entry, overwriting any previous one with the same id.
func (s *Store) PutContent(ctx context.Context, e ContentEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO content_cache (id, payload, cached_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET payload = excluded.payload, cached_at = excluded.cached_at`,
		e.ID, e.Payload, toMillis(e.CachedAt),
	)
	if err != nil {
		return fmt.Errorf("put content %s: %w", e.ID, err)
	}
	return nil
}

// GetContent returns the cached entry or ErrNotCached.
func (s *Store) GetContent(ctx context.Context, id string) (ContentEntry, error) {
	var row contentRow
	err := s.db.GetContext(ctx, &row, `SELECT id, payload, cached_at FROM content_cache WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ContentEntry{}, ErrNotCached
	}
	if err != nil {
		return ContentEntry{}, fmt.Errorf("get content %s: %w", id, err)
	}
	return ContentEntry{ID: row.ID, Payload: row.Payload, CachedAt: fromMillis(row.CachedAt)}, nil
}

// HasContent reports whether id is cached.
func (s *Store) HasContent(ctx context.Context, id string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM content_cache WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("has content %s: %w", id, err)
	}
	return n > 0, nil
}

// DeleteContent removes the entry. Absent ids are not an error.
func (s *Store) DeleteContent(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM content_cache WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete content %s: %w", id, err)
	}
	return nil
}

// ListContent returns every cached entry ordered by id, without payloads.
func (s *Store) ListContent(ctx context.Context) ([]ContentEntry, error) {
	var rows []contentRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT id, cached_at FROM content_cache ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list content: %w", err)
	}
	out := make([]ContentEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, ContentEntry{ID: r.ID, CachedAt: fromMillis(r.CachedAt)})
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Mutation queue
// ─────────────────────────────────────────────────────────────────────────────

// Enqueue appends m to the queue. Seq is assigned by the store.
func (s *Store) Enqueue(ctx context.Context, m PendingMutation) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO mutation_queue (mutation_id, kind, payload, created_at, next_attempt_at, status)
		VALUES (?, ?, ?, ?, ?, ?)`,
		m.MutationID, string(m.Kind), []byte(m.Payload), toMillis(m.CreatedAt), toMillis(m.CreatedAt), string(StatusPending),
	)
	if err != nil {
		return 0, fmt.Errorf("enqueue %s: %w", m.MutationID, err)
	}
	return res.LastInsertId()
}

// Pending returns pending mutations with seq <= upTo in FIFO order.
// upTo <= 0 means no bound.
func (s *Store) Pending(ctx context.Context, upTo int64) ([]PendingMutation, error) {
	q := `SELECT * FROM mutation_queue WHERE status = ? ORDER BY seq`
	args := []any{string(StatusPending)}
	if upTo > 0 {
		q = `SELECT * FROM mutation_queue WHERE status = ? AND seq <= ? ORDER BY seq`
		args = append(args, upTo)
	}
	return s.selectMutations(ctx, q, args...)
}

// Rejected returns permanently rejected mutations in FIFO order.
func (s *Store) Rejected(ctx context.Context) ([]PendingMutation, error) {
	return s.selectMutations(ctx, `SELECT * FROM mutation_queue WHERE status = ? ORDER BY seq`, string(StatusRejected))
}

// All returns the whole queue in FIFO order.
func (s *Store) All(ctx context.Context) ([]PendingMutation, error) {
	return s.selectMutations(ctx, `SELECT * FROM mutation_queue ORDER BY seq`)
}

func (s *Store) selectMutations(ctx context.Context, q string, args ...any) ([]PendingMutation, error) {
	var rows []mutationRow
	if err := s.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("select mutations: %w", err)
	}
	out := make([]PendingMutation, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toPending())
	}
	return out, nil
}

// LastSeq returns the highest queued seq, 0 for an empty queue.
func (s *Store) LastSeq(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	if err := s.db.GetContext(ctx, &seq, `SELECT MAX(seq) FROM mutation_queue`); err != nil {
		return 0, fmt.Errorf("last seq: %w", err)
	}
	return seq.Int64, nil
}

// CountPending counts mutations still waiting for acknowledgment.
func (s *Store) CountPending(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM mutation_queue WHERE status = ?`, string(StatusPending)); err != nil {
		return 0, fmt.Errorf("count pending: %w", err)
	}
	return n, nil
}

// Remove deletes an acknowledged mutation.
func (s *Store) Remove(ctx context.Context, mutationID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM mutation_queue WHERE mutation_id = ?`, mutationID); err != nil {
		return fmt.Errorf("remove %s: %w", mutationID, err)
	}
	return nil
}

// MarkFailed records a failed delivery and when to try again.
func (s *Store) MarkFailed(ctx context.Context, mutationID string, attempts int, nextAttemptAt time.Time, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mutation_queue SET attempt_count = ?, next_attempt_at = ?, last_error = ?
		WHERE mutation_id = ?`,
		attempts, toMillis(nextAttemptAt), reason, mutationID,
	)
	if err != nil {
		return fmt.Errorf("mark failed %s: %w", mutationID, err)
	}
	return nil
}

// MarkRejected moves a mutation out of the delivery path.
func (s *Store) MarkRejected(ctx context.Context, mutationID string, attempts int, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE mutation_queue SET status = ?, attempt_count = ?, last_error = ?
		WHERE mutation_id = ?`,
		string(StatusRejected), attempts, reason, mutationID,
	)
	if err != nil {
		return fmt.Errorf("mark rejected %s: %w", mutationID, err)
	}
	return nil
}

// Requeue puts a rejected mutation back into the pending state.
func (s *Store) Requeue(ctx context.Context, mutationID string, now time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE mutation_queue SET status = ?, attempt_count = 0, next_attempt_at = ?, last_error = NULL
		WHERE mutation_id = ? AND status = ?`,
		string(StatusPending), toMillis(now), mutationID, string(StatusRejected),
	)
	if err != nil {
		return fmt.Errorf("requeue %s: %w", mutationID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("requeue %s: no rejected mutation with this id", mutationID)
	}
	return nil
}

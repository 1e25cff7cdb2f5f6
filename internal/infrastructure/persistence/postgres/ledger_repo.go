package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/alem-hub/mastery-engine/internal/domain/progress"
	"github.com/alem-hub/mastery-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// LedgerRepository implements progress.Repository for PostgreSQL.
// A save is one transaction: a version-guarded UPDATE of the ledger row,
// the diff of history and mistakes, and the mutation log insert.
type LedgerRepository struct {
	conn *Connection
}

// NewLedgerRepository creates a new LedgerRepository.
func NewLedgerRepository(conn *Connection) *LedgerRepository {
	return &LedgerRepository{conn: conn}
}

var _ progress.Repository = (*LedgerRepository)(nil)

// ─────────────────────────────────────────────────────────────────────────────
// Reads
// ─────────────────────────────────────────────────────────────────────────────

const selectLedger = `
	SELECT account_id, total_xp, level, current_streak, longest_streak, problems_solved,
		weekly_xp, week_start, current_league, xp_balance, time_spent_minutes,
		purchased_item_ids, last_active_date, version, created_at, updated_at
	FROM ledgers
	WHERE account_id = $1
`

// Get implements progress.Repository.
func (r *LedgerRepository) Get(ctx context.Context, accountID string) (progress.Ledger, error) {
	var (
		l          progress.Ledger
		league     string
		lastActive *time.Time
	)

	err := r.conn.Pool().QueryRow(ctx, selectLedger, accountID).Scan(
		&l.AccountID, &l.TotalXP, &l.Level, &l.CurrentStreak, &l.LongestStreak, &l.ProblemsSolved,
		&l.WeeklyXP, &l.WeekStart, &league, &l.XPBalance, &l.TimeSpentMinutes,
		&l.PurchasedItemIDs, &lastActive, &l.Version, &l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return progress.Ledger{}, shared.ErrAccountNotFound
		}
		return progress.Ledger{}, fmt.Errorf("failed to get ledger: %w", err)
	}

	l.CurrentLeague = progress.League(league)
	l.WeekStart = l.WeekStart.UTC()
	l.CreatedAt = l.CreatedAt.UTC()
	l.UpdatedAt = l.UpdatedAt.UTC()
	if lastActive != nil {
		l.LastActiveDate = lastActive.UTC()
	}
	if l.PurchasedItemIDs == nil {
		l.PurchasedItemIDs = []string{}
	}

	if l.History, err = r.history(ctx, accountID); err != nil {
		return progress.Ledger{}, err
	}
	if l.Mistakes, err = r.mistakes(ctx, accountID); err != nil {
		return progress.Ledger{}, err
	}
	return l, nil
}

func (r *LedgerRepository) history(ctx context.Context, accountID string) ([]progress.HistoryEntry, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT problem_id, xp_earned, completed_at
		FROM ledger_history
		WHERE account_id = $1
		ORDER BY id
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (progress.HistoryEntry, error) {
		var h progress.HistoryEntry
		err := row.Scan(&h.ProblemID, &h.XPEarned, &h.CompletedAt)
		h.CompletedAt = h.CompletedAt.UTC()
		return h, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan history: %w", err)
	}
	if out == nil {
		out = []progress.HistoryEntry{}
	}
	return out, nil
}

func (r *LedgerRepository) mistakes(ctx context.Context, accountID string) (map[string]progress.Mistake, error) {
	rows, err := r.conn.Pool().Query(ctx, `
		SELECT problem_id, retry_count, last_failed_at, next_retry_at
		FROM ledger_mistakes
		WHERE account_id = $1
	`, accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query mistakes: %w", err)
	}
	defer rows.Close()

	out := make(map[string]progress.Mistake)
	for rows.Next() {
		var m progress.Mistake
		if err := rows.Scan(&m.ProblemID, &m.RetryCount, &m.LastFailedAt, &m.NextRetryAt); err != nil {
			return nil, fmt.Errorf("failed to scan mistake: %w", err)
		}
		m.LastFailedAt = m.LastFailedAt.UTC()
		m.NextRetryAt = m.NextRetryAt.UTC()
		out[m.ProblemID] = m
	}
	return out, rows.Err()
}

// FindMutation implements progress.Repository.
func (r *LedgerRepository) FindMutation(ctx context.Context, accountID, mutationID string) (progress.AppliedMutation, error) {
	var (
		m      progress.AppliedMutation
		kind   string
		result []byte
	)

	err := r.conn.Pool().QueryRow(ctx, `
		SELECT account_id, mutation_id, kind, payload, result, applied_at
		FROM applied_mutations
		WHERE account_id = $1 AND mutation_id = $2
	`, accountID, mutationID).Scan(&m.AccountID, &m.MutationID, &kind, &m.Payload, &result, &m.AppliedAt)
	if err != nil {
		if IsNoRows(err) {
			return progress.AppliedMutation{}, shared.ErrMutationNotFound
		}
		return progress.AppliedMutation{}, fmt.Errorf("failed to find mutation: %w", err)
	}

	if err := json.Unmarshal(result, &m.Result); err != nil {
		return progress.AppliedMutation{}, fmt.Errorf("failed to decode mutation result: %w", err)
	}
	m.Kind = progress.MutationKind(kind)
	m.AppliedAt = m.AppliedAt.UTC()
	return m, nil
}

// ListAccountIDs implements progress.Repository.
func (r *LedgerRepository) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := r.conn.Pool().Query(ctx, `SELECT account_id FROM ledgers ORDER BY account_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan accounts: %w", err)
	}
	return ids, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Writes
// ─────────────────────────────────────────────────────────────────────────────

// Create implements progress.Repository.
func (r *LedgerRepository) Create(ctx context.Context, l progress.Ledger) error {
	if err := l.CheckInvariants(); err != nil {
		return err
	}

	_, err := r.conn.Pool().Exec(ctx, `
		INSERT INTO ledgers (
			account_id, total_xp, level, current_streak, longest_streak, problems_solved,
			weekly_xp, week_start, current_league, xp_balance, time_spent_minutes,
			purchased_item_ids, last_active_date, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 1, $14, $15)
		ON CONFLICT (account_id) DO NOTHING
	`,
		l.AccountID, l.TotalXP, l.Level, l.CurrentStreak, l.LongestStreak, l.ProblemsSolved,
		l.WeeklyXP, l.WeekStart, string(l.CurrentLeague), l.XPBalance, l.TimeSpentMinutes,
		itemIDs(l.PurchasedItemIDs), nullableDate(l.LastActiveDate), l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create ledger: %w", err)
	}
	return nil
}

// Save implements progress.Repository.
func (r *LedgerRepository) Save(ctx context.Context, prev, next progress.Ledger, m *progress.AppliedMutation) error {
	if err := next.CheckInvariants(); err != nil {
		return err
	}
	next.Version = prev.Version + 1

	return r.conn.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE ledgers SET
				total_xp = $3, level = $4, current_streak = $5, longest_streak = $6,
				problems_solved = $7, weekly_xp = $8, week_start = $9, current_league = $10,
				xp_balance = $11, time_spent_minutes = $12, purchased_item_ids = $13,
				last_active_date = $14, updated_at = $15, version = version + 1
			WHERE account_id = $1 AND version = $2
		`,
			prev.AccountID, prev.Version,
			next.TotalXP, next.Level, next.CurrentStreak, next.LongestStreak,
			next.ProblemsSolved, next.WeeklyXP, next.WeekStart, string(next.CurrentLeague),
			next.XPBalance, next.TimeSpentMinutes, itemIDs(next.PurchasedItemIDs),
			nullableDate(next.LastActiveDate), next.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to update ledger: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return r.missOrConflict(ctx, tx, prev.AccountID)
		}

		if err := writeChanges(ctx, tx, next.AccountID, progress.Diff(prev, next)); err != nil {
			return err
		}

		if m == nil {
			return nil
		}
		result, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to encode mutation result: %w", err)
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO applied_mutations (account_id, mutation_id, kind, payload, result, applied_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, m.AccountID, m.MutationID, string(m.Kind), payloadOrNil(m.Payload), result, m.AppliedAt)
		if err != nil {
			if IsUniqueViolation(err) {
				return progress.ErrDuplicateMutation
			}
			return fmt.Errorf("failed to record mutation: %w", err)
		}
		return nil
	})
}

func (r *LedgerRepository) missOrConflict(ctx context.Context, tx pgx.Tx, accountID string) error {
	var exists bool
	err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM ledgers WHERE account_id = $1)`, accountID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check ledger: %w", err)
	}
	if !exists {
		return shared.ErrAccountNotFound
	}
	return shared.ErrVersionConflict
}

func writeChanges(ctx context.Context, q Querier, accountID string, c progress.Changes) error {
	for _, h := range c.NewHistory {
		if _, err := q.Exec(ctx, `
			INSERT INTO ledger_history (account_id, problem_id, xp_earned, completed_at)
			VALUES ($1, $2, $3, $4)
		`, accountID, h.ProblemID, h.XPEarned, h.CompletedAt); err != nil {
			return fmt.Errorf("failed to append history: %w", err)
		}
	}

	for _, m := range c.UpsertedMistakes {
		if _, err := q.Exec(ctx, `
			INSERT INTO ledger_mistakes (account_id, problem_id, retry_count, last_failed_at, next_retry_at)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (account_id, problem_id) DO UPDATE SET
				retry_count = EXCLUDED.retry_count,
				last_failed_at = EXCLUDED.last_failed_at,
				next_retry_at = EXCLUDED.next_retry_at
		`, accountID, m.ProblemID, m.RetryCount, m.LastFailedAt, m.NextRetryAt); err != nil {
			return fmt.Errorf("failed to upsert mistake: %w", err)
		}
	}

	if len(c.RemovedMistakes) > 0 {
		if _, err := q.Exec(ctx, `
			DELETE FROM ledger_mistakes WHERE account_id = $1 AND problem_id = ANY($2)
		`, accountID, c.RemovedMistakes); err != nil {
			return fmt.Errorf("failed to delete mistakes: %w", err)
		}
	}
	return nil
}

// PurgeMutations implements progress.Repository.
func (r *LedgerRepository) PurgeMutations(ctx context.Context, olderThan time.Time) (int64, error) {
	tag, err := r.conn.Pool().Exec(ctx, `DELETE FROM applied_mutations WHERE applied_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to purge mutations: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────────────────────

func itemIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}

func nullableDate(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func payloadOrNil(p json.RawMessage) []byte {
	if len(p) == 0 {
		return nil
	}
	return p
}

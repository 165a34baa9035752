package db

import (
	"context"
	"database/sql"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by Queries.
type DBTX interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
	QueryContext(context.Context, string, ...any) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...any) *sql.Row
}

// Queries holds the prepared SQL for every table.
type Queries struct {
	db DBTX
}

// New returns Queries bound to db.
func New(db DBTX) *Queries {
	return &Queries{db: db}
}

// WithTx returns Queries bound to tx.
func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Completion is a row of the completions table.
type Completion struct {
	UserID       string
	TaskID       string
	Status       string
	StartedAt    sql.NullInt64
	SubmittedAt  sql.NullInt64
	CompletedAt  sql.NullInt64
	Reward       sql.NullString
	Earnings     sql.NullString
	ApprovalNote sql.NullString
	UpdatedAt    int64
}

const completionColumns = `user_id, task_id, status, started_at, submitted_at, completed_at, reward, earnings, approval_note, updated_at`

func scanCompletion(row interface{ Scan(...any) error }) (Completion, error) {
	var c Completion
	err := row.Scan(
		&c.UserID,
		&c.TaskID,
		&c.Status,
		&c.StartedAt,
		&c.SubmittedAt,
		&c.CompletedAt,
		&c.Reward,
		&c.Earnings,
		&c.ApprovalNote,
		&c.UpdatedAt,
	)
	return c, err
}

const getCompletion = `SELECT ` + completionColumns + ` FROM completions WHERE user_id = ? AND task_id = ?`

// GetCompletion returns sql.ErrNoRows when the pair has no row.
func (q *Queries) GetCompletion(ctx context.Context, userID, taskID string) (Completion, error) {
	return scanCompletion(q.db.QueryRowContext(ctx, getCompletion, userID, taskID))
}

const insertCompletion = `INSERT INTO completions (` + completionColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertCompletion fails with a UNIQUE constraint error if the pair exists.
func (q *Queries) InsertCompletion(ctx context.Context, c Completion) error {
	_, err := q.db.ExecContext(ctx, insertCompletion,
		c.UserID,
		c.TaskID,
		c.Status,
		c.StartedAt,
		c.SubmittedAt,
		c.CompletedAt,
		c.Reward,
		c.Earnings,
		c.ApprovalNote,
		c.UpdatedAt,
	)
	return err
}

const updateCompletionIfStatus = `UPDATE completions
SET status = ?, started_at = ?, submitted_at = ?, completed_at = ?, reward = ?, earnings = ?, approval_note = ?, updated_at = ?
WHERE user_id = ? AND task_id = ? AND status = ?`

// UpdateCompletionIfStatus writes c only when the stored status equals
// expected and returns the number of rows changed.
func (q *Queries) UpdateCompletionIfStatus(ctx context.Context, c Completion, expected string) (int64, error) {
	res, err := q.db.ExecContext(ctx, updateCompletionIfStatus,
		c.Status,
		c.StartedAt,
		c.SubmittedAt,
		c.CompletedAt,
		c.Reward,
		c.Earnings,
		c.ApprovalNote,
		c.UpdatedAt,
		c.UserID,
		c.TaskID,
		expected,
	)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const listCompletionsByStatus = `SELECT ` + completionColumns + ` FROM completions WHERE user_id = ? AND status = ? ORDER BY task_id`

// ListCompletionsByStatus returns the user's rows in a status.
func (q *Queries) ListCompletionsByStatus(ctx context.Context, userID, status string) ([]Completion, error) {
	return q.listCompletions(ctx, listCompletionsByStatus, userID, status)
}

const listCompletionsByUser = `SELECT ` + completionColumns + ` FROM completions WHERE user_id = ? ORDER BY task_id`

// ListCompletionsByUser returns every row for the user.
func (q *Queries) ListCompletionsByUser(ctx context.Context, userID string) ([]Completion, error) {
	return q.listCompletions(ctx, listCompletionsByUser, userID)
}

const listCompletedEarnings = `SELECT earnings FROM completions WHERE user_id = ? AND status = 'completed'`

// ListCompletedEarnings returns the decimal text of every credited amount for the user.
func (q *Queries) ListCompletedEarnings(ctx context.Context, userID string) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listCompletedEarnings, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var v sql.NullString
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		if v.Valid {
			out = append(out, v.String)
		}
	}
	return out, rows.Err()
}

func (q *Queries) listCompletions(ctx context.Context, query string, args ...any) ([]Completion, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Completion
	for rows.Next() {
		c, err := scanCompletion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Credit is a row of the credits table.
type Credit struct {
	ID         string
	UserID     string
	TaskID     string
	Amount     string
	Note       string
	CreditedAt int64
}

const insertCredit = `INSERT INTO credits (id, user_id, task_id, amount, note, credited_at) VALUES (?, ?, ?, ?, ?, ?)`

// InsertCredit fails with a UNIQUE constraint error on a second credit for the pair.
func (q *Queries) InsertCredit(ctx context.Context, c Credit) error {
	_, err := q.db.ExecContext(ctx, insertCredit, c.ID, c.UserID, c.TaskID, c.Amount, c.Note, c.CreditedAt)
	return err
}

const listCredits = `SELECT id, user_id, task_id, amount, note, credited_at FROM credits WHERE user_id = ? ORDER BY credited_at, task_id`

// ListCredits returns the user's credits oldest first.
func (q *Queries) ListCredits(ctx context.Context, userID string) ([]Credit, error) {
	rows, err := q.db.QueryContext(ctx, listCredits, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Credit
	for rows.Next() {
		var c Credit
		if err := rows.Scan(&c.ID, &c.UserID, &c.TaskID, &c.Amount, &c.Note, &c.CreditedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// KvStore is a row of the kv_store table.
type KvStore struct {
	Key       string
	Value     []byte
	ExpiresAt sql.NullInt64
	CreatedAt int64
	UpdatedAt int64
}

// KVSetParams holds the values written by KVSet.
type KVSetParams struct {
	Key       string
	Value     []byte
	ExpiresAt sql.NullInt64
	CreatedAt int64
	UpdatedAt int64
}

const kvSet = `INSERT INTO kv_store (key, value, expires_at, created_at, updated_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (key) DO UPDATE SET value = excluded.value, expires_at = excluded.expires_at, updated_at = excluded.updated_at`

// KVSet inserts or replaces a key, keeping the original created_at.
func (q *Queries) KVSet(ctx context.Context, arg KVSetParams) error {
	_, err := q.db.ExecContext(ctx, kvSet, arg.Key, arg.Value, arg.ExpiresAt, arg.CreatedAt, arg.UpdatedAt)
	return err
}

const kvGet = `SELECT key, value, expires_at, created_at, updated_at FROM kv_store WHERE key = ?`

// KVGet returns sql.ErrNoRows when the key is missing.
func (q *Queries) KVGet(ctx context.Context, key string) (KvStore, error) {
	var row KvStore
	err := q.db.QueryRowContext(ctx, kvGet, key).Scan(&row.Key, &row.Value, &row.ExpiresAt, &row.CreatedAt, &row.UpdatedAt)
	return row, err
}

const kvDelete = `DELETE FROM kv_store WHERE key = ?`

// KVDelete removes a key.
func (q *Queries) KVDelete(ctx context.Context, key string) error {
	_, err := q.db.ExecContext(ctx, kvDelete, key)
	return err
}

const kvListKeys = `SELECT key FROM kv_store WHERE expires_at IS NULL OR expires_at >= ? ORDER BY key`

// KVListKeys returns keys that have not expired at now.
func (q *Queries) KVListKeys(ctx context.Context, now sql.NullInt64) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, kvListKeys, now)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

const kvSweepExpired = `DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at < ?`

// KVSweepExpired deletes entries that expired before now.
func (q *Queries) KVSweepExpired(ctx context.Context, now sql.NullInt64) error {
	_, err := q.db.ExecContext(ctx, kvSweepExpired, now)
	return err
}

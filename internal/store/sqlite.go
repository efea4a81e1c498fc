package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ghostcart/pkg/mandate"

	_ "modernc.org/sqlite"
)

// SQLite is the embedded single-node backend. Mandates are stored as JSON
// blobs keyed by id; jobs get typed columns so the deactivation
// compare-and-set can run as a single conditional UPDATE.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the schema.
// busy_timeout keeps overlapping scheduler workers from tripping on
// SQLITE_BUSY.
func OpenSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(30000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS mandates (
		mandate_id   TEXT PRIMARY KEY,
		mandate_type TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		payload      JSON NOT NULL,
		created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
	);
	CREATE TABLE IF NOT EXISTS transactions (
		transaction_id     TEXT PRIMARY KEY,
		intent_mandate_id  TEXT,
		cart_mandate_id    TEXT NOT NULL,
		payment_mandate_id TEXT NOT NULL,
		user_id            TEXT NOT NULL,
		status             TEXT NOT NULL,
		authorization_code TEXT,
		decline_reason     TEXT,
		amount_cents       INTEGER NOT NULL,
		currency           TEXT NOT NULL,
		created_at         DATETIME NOT NULL
	);
	CREATE TABLE IF NOT EXISTS monitoring_jobs (
		job_id            TEXT PRIMARY KEY,
		intent_mandate_id TEXT NOT NULL,
		user_id           TEXT NOT NULL,
		product_query     TEXT NOT NULL,
		constraints       JSON NOT NULL,
		interval_seconds  INTEGER NOT NULL,
		active            INTEGER NOT NULL,
		terminal_reason   TEXT NOT NULL DEFAULT '',
		last_check_at     DATETIME,
		created_at        DATETIME NOT NULL,
		expires_at        DATETIME NOT NULL
	);`
	_, err := s.db.ExecContext(context.Background(), query)
	return err
}

func (s *SQLite) putMandate(ctx context.Context, mandateID, mandateType, userID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mandates(mandate_id, mandate_type, user_id, payload) VALUES(?,?,?,?)
		ON CONFLICT(mandate_id) DO UPDATE SET payload=excluded.payload`,
		mandateID, mandateType, userID, string(payload))
	return err
}

func (s *SQLite) getMandate(ctx context.Context, mandateID string, dst any) error {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM mandates WHERE mandate_id = ?`, mandateID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dst)
}

func (s *SQLite) PutIntent(ctx context.Context, m *mandate.Intent) error {
	return s.putMandate(ctx, m.MandateID, "intent", m.UserID, m)
}

func (s *SQLite) GetIntent(ctx context.Context, mandateID string) (*mandate.Intent, error) {
	var m mandate.Intent
	if err := s.getMandate(ctx, mandateID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLite) PutCart(ctx context.Context, m *mandate.Cart) error {
	return s.putMandate(ctx, m.MandateID, "cart", m.UserID, m)
}

func (s *SQLite) GetCart(ctx context.Context, mandateID string) (*mandate.Cart, error) {
	var m mandate.Cart
	if err := s.getMandate(ctx, mandateID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *SQLite) PutPayment(ctx context.Context, m *mandate.Payment) error {
	return s.putMandate(ctx, m.MandateID, "payment", "", m)
}

func (s *SQLite) AppendTransaction(ctx context.Context, t *mandate.Transaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO transactions(transaction_id, intent_mandate_id, cart_mandate_id,
			payment_mandate_id, user_id, status, authorization_code, decline_reason,
			amount_cents, currency, created_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		t.TransactionID, t.IntentMandateID, t.CartMandateID, t.PaymentMandateID,
		t.UserID, string(t.Status), t.AuthorizationCode, t.DeclineReason,
		t.AmountCents, t.Currency, t.CreatedAt.UTC())
	return err
}

func (s *SQLite) ListTransactions(ctx context.Context, userID string) ([]mandate.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT transaction_id, intent_mandate_id, cart_mandate_id, payment_mandate_id,
			user_id, status, authorization_code, decline_reason, amount_cents, currency, created_at
		FROM transactions
		WHERE (? = '' OR user_id = ?)
		ORDER BY created_at DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []mandate.Transaction
	for rows.Next() {
		var t mandate.Transaction
		var status string
		if err := rows.Scan(&t.TransactionID, &t.IntentMandateID, &t.CartMandateID,
			&t.PaymentMandateID, &t.UserID, &status, &t.AuthorizationCode,
			&t.DeclineReason, &t.AmountCents, &t.Currency, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Status = mandate.TransactionStatus(status)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) CreateJob(ctx context.Context, j *mandate.MonitoringJob) error {
	constraints, err := json.Marshal(j.Constraints)
	if err != nil {
		return err
	}
	var lastCheck any
	if j.LastCheckAt != nil {
		lastCheck = j.LastCheckAt.UTC()
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO monitoring_jobs(job_id, intent_mandate_id, user_id, product_query,
			constraints, interval_seconds, active, terminal_reason, last_check_at,
			created_at, expires_at)
		VALUES(?,?,?,?,?,?,?,?,?,?,?)`,
		j.JobID, j.IntentID, j.UserID, j.ProductQuery, string(constraints),
		int64(j.CheckInterval/time.Second), boolToInt(j.Active), string(j.TerminalReason),
		lastCheck, j.CreatedAt.UTC(), j.ExpiresAt.UTC())
	return err
}

const jobColumns = `job_id, intent_mandate_id, user_id, product_query, constraints,
	interval_seconds, active, terminal_reason, last_check_at, created_at, expires_at`

func scanJob(scan func(...any) error) (mandate.MonitoringJob, error) {
	var j mandate.MonitoringJob
	var constraints []byte
	var intervalSeconds int64
	var active int
	var reason string
	var lastCheck sql.NullTime
	err := scan(&j.JobID, &j.IntentID, &j.UserID, &j.ProductQuery, &constraints,
		&intervalSeconds, &active, &reason, &lastCheck, &j.CreatedAt, &j.ExpiresAt)
	if err != nil {
		return j, err
	}
	if err := json.Unmarshal(constraints, &j.Constraints); err != nil {
		return j, err
	}
	j.CheckInterval = time.Duration(intervalSeconds) * time.Second
	j.Active = active != 0
	j.TerminalReason = mandate.TerminalReason(reason)
	if lastCheck.Valid {
		t := lastCheck.Time.UTC()
		j.LastCheckAt = &t
	}
	return j, nil
}

func (s *SQLite) GetJob(ctx context.Context, jobID string) (*mandate.MonitoringJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM monitoring_jobs WHERE job_id = ?`, jobID)
	j, err := scanJob(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *SQLite) listJobs(ctx context.Context, query string, args ...any) ([]mandate.MonitoringJob, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []mandate.MonitoringJob
	for rows.Next() {
		j, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *SQLite) ListActiveJobs(ctx context.Context) ([]mandate.MonitoringJob, error) {
	return s.listJobs(ctx,
		`SELECT `+jobColumns+` FROM monitoring_jobs WHERE active = 1 ORDER BY job_id`)
}

func (s *SQLite) ListJobsByUser(ctx context.Context, userID string, activeOnly bool) ([]mandate.MonitoringJob, error) {
	if activeOnly {
		return s.listJobs(ctx,
			`SELECT `+jobColumns+` FROM monitoring_jobs WHERE user_id = ? AND active = 1 ORDER BY job_id`, userID)
	}
	return s.listJobs(ctx,
		`SELECT `+jobColumns+` FROM monitoring_jobs WHERE user_id = ? ORDER BY job_id`, userID)
}

func (s *SQLite) RecordCheck(ctx context.Context, jobID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE monitoring_jobs SET last_check_at = ? WHERE job_id = ?`, at.UTC(), jobID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return ErrNotFound
	}
	return err
}

// DeactivateJob is the exactly-once guard: the conditional UPDATE commits
// atomically, so of any concurrent callers exactly one sees a row change.
func (s *SQLite) DeactivateJob(ctx context.Context, jobID string, reason mandate.TerminalReason) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE monitoring_jobs SET active = 0, terminal_reason = ?
		WHERE job_id = ? AND active = 1`, string(reason), jobID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLite) SetTerminalReason(ctx context.Context, jobID string, reason mandate.TerminalReason) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE monitoring_jobs SET terminal_reason = ?
		WHERE job_id = ? AND active = 0`, string(reason), jobID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"ghostcart/pkg/mandate"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres is the multi-node backend. Same shape as the SQLite store; the
// deactivation compare-and-set relies on UPDATE row-level atomicity.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres { return &Postgres{db: db} }

// EnsureSchema applies the schema. Idempotent; called once at startup.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
	CREATE TABLE IF NOT EXISTS mandates (
		mandate_id   TEXT PRIMARY KEY,
		mandate_type TEXT NOT NULL,
		user_id      TEXT NOT NULL,
		payload      JSONB NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
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
		amount_cents       BIGINT NOT NULL,
		currency           TEXT NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL
	);
	CREATE TABLE IF NOT EXISTS monitoring_jobs (
		job_id            TEXT PRIMARY KEY,
		intent_mandate_id TEXT NOT NULL,
		user_id           TEXT NOT NULL,
		product_query     TEXT NOT NULL,
		constraints       JSONB NOT NULL,
		interval_seconds  BIGINT NOT NULL,
		active            BOOLEAN NOT NULL,
		terminal_reason   TEXT NOT NULL DEFAULT '',
		last_check_at     TIMESTAMPTZ,
		created_at        TIMESTAMPTZ NOT NULL,
		expires_at        TIMESTAMPTZ NOT NULL
	)`)
	return err
}

func (s *Postgres) putMandate(ctx context.Context, mandateID, mandateType, userID string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO mandates(mandate_id, mandate_type, user_id, payload) VALUES($1,$2,$3,$4::jsonb)
		ON CONFLICT (mandate_id) DO UPDATE SET payload=EXCLUDED.payload`,
		mandateID, mandateType, userID, string(payload))
	return err
}

func (s *Postgres) getMandate(ctx context.Context, mandateID string, dst any) error {
	var payload []byte
	err := s.db.QueryRow(ctx,
		`SELECT payload FROM mandates WHERE mandate_id=$1`, mandateID).Scan(&payload)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, dst)
}

func (s *Postgres) PutIntent(ctx context.Context, m *mandate.Intent) error {
	return s.putMandate(ctx, m.MandateID, "intent", m.UserID, m)
}

func (s *Postgres) GetIntent(ctx context.Context, mandateID string) (*mandate.Intent, error) {
	var m mandate.Intent
	if err := s.getMandate(ctx, mandateID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) PutCart(ctx context.Context, m *mandate.Cart) error {
	return s.putMandate(ctx, m.MandateID, "cart", m.UserID, m)
}

func (s *Postgres) GetCart(ctx context.Context, mandateID string) (*mandate.Cart, error) {
	var m mandate.Cart
	if err := s.getMandate(ctx, mandateID, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Postgres) PutPayment(ctx context.Context, m *mandate.Payment) error {
	return s.putMandate(ctx, m.MandateID, "payment", "", m)
}

func (s *Postgres) AppendTransaction(ctx context.Context, t *mandate.Transaction) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO transactions(transaction_id, intent_mandate_id, cart_mandate_id,
			payment_mandate_id, user_id, status, authorization_code, decline_reason,
			amount_cents, currency, created_at)
		VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		t.TransactionID, t.IntentMandateID, t.CartMandateID, t.PaymentMandateID,
		t.UserID, string(t.Status), t.AuthorizationCode, t.DeclineReason,
		t.AmountCents, t.Currency, t.CreatedAt.UTC())
	return err
}

func (s *Postgres) ListTransactions(ctx context.Context, userID string) ([]mandate.Transaction, error) {
	rows, err := s.db.Query(ctx, `
		SELECT transaction_id, intent_mandate_id, cart_mandate_id, payment_mandate_id,
			user_id, status, authorization_code, decline_reason, amount_cents, currency, created_at
		FROM transactions
		WHERE ($1 = '' OR user_id = $1)
		ORDER BY created_at DESC`, userID)
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

func (s *Postgres) CreateJob(ctx context.Context, j *mandate.MonitoringJob) error {
	constraints, err := json.Marshal(j.Constraints)
	if err != nil {
		return err
	}
	var lastCheck *time.Time
	if j.LastCheckAt != nil {
		t := j.LastCheckAt.UTC()
		lastCheck = &t
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO monitoring_jobs(job_id, intent_mandate_id, user_id, product_query,
			constraints, interval_seconds, active, terminal_reason, last_check_at,
			created_at, expires_at)
		VALUES($1,$2,$3,$4,$5::jsonb,$6,$7,$8,$9,$10,$11)`,
		j.JobID, j.IntentID, j.UserID, j.ProductQuery, string(constraints),
		int64(j.CheckInterval/time.Second), j.Active, string(j.TerminalReason),
		lastCheck, j.CreatedAt.UTC(), j.ExpiresAt.UTC())
	return err
}

const pgJobColumns = `job_id, intent_mandate_id, user_id, product_query, constraints,
	interval_seconds, active, terminal_reason, last_check_at, created_at, expires_at`

func scanPgJob(scan func(...any) error) (mandate.MonitoringJob, error) {
	var j mandate.MonitoringJob
	var constraints []byte
	var intervalSeconds int64
	var reason string
	var lastCheck *time.Time
	err := scan(&j.JobID, &j.IntentID, &j.UserID, &j.ProductQuery, &constraints,
		&intervalSeconds, &j.Active, &reason, &lastCheck, &j.CreatedAt, &j.ExpiresAt)
	if err != nil {
		return j, err
	}
	if err := json.Unmarshal(constraints, &j.Constraints); err != nil {
		return j, err
	}
	j.CheckInterval = time.Duration(intervalSeconds) * time.Second
	j.TerminalReason = mandate.TerminalReason(reason)
	if lastCheck != nil {
		t := lastCheck.UTC()
		j.LastCheckAt = &t
	}
	return j, nil
}

func (s *Postgres) GetJob(ctx context.Context, jobID string) (*mandate.MonitoringJob, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+pgJobColumns+` FROM monitoring_jobs WHERE job_id=$1`, jobID)
	j, err := scanPgJob(row.Scan)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (s *Postgres) listJobs(ctx context.Context, query string, args ...any) ([]mandate.MonitoringJob, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []mandate.MonitoringJob
	for rows.Next() {
		j, err := scanPgJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (s *Postgres) ListActiveJobs(ctx context.Context) ([]mandate.MonitoringJob, error) {
	return s.listJobs(ctx,
		`SELECT `+pgJobColumns+` FROM monitoring_jobs WHERE active ORDER BY job_id`)
}

func (s *Postgres) ListJobsByUser(ctx context.Context, userID string, activeOnly bool) ([]mandate.MonitoringJob, error) {
	if activeOnly {
		return s.listJobs(ctx,
			`SELECT `+pgJobColumns+` FROM monitoring_jobs WHERE user_id=$1 AND active ORDER BY job_id`, userID)
	}
	return s.listJobs(ctx,
		`SELECT `+pgJobColumns+` FROM monitoring_jobs WHERE user_id=$1 ORDER BY job_id`, userID)
}

func (s *Postgres) RecordCheck(ctx context.Context, jobID string, at time.Time) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE monitoring_jobs SET last_check_at=$1 WHERE job_id=$2`, at.UTC(), jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Postgres) DeactivateJob(ctx context.Context, jobID string, reason mandate.TerminalReason) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE monitoring_jobs SET active=false, terminal_reason=$1
		WHERE job_id=$2 AND active`, string(reason), jobID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *Postgres) SetTerminalReason(ctx context.Context, jobID string, reason mandate.TerminalReason) error {
	_, err := s.db.Exec(ctx, `
		UPDATE monitoring_jobs SET terminal_reason=$1
		WHERE job_id=$2 AND NOT active`, string(reason), jobID)
	return err
}

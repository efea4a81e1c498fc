// Package store persists mandates, transactions, and monitoring jobs. The
// exactly-once purchase guard depends on one property of this interface:
// DeactivateJob is an atomic compare-and-set on the job's active flag, so of
// any number of concurrent callers exactly one observes flipped=true.
package store

import (
	"context"
	"errors"
	"time"

	"ghostcart/pkg/mandate"
)

var ErrNotFound = errors.New("store: not found")

// Store is the persistence contract. Any backend satisfying it, including
// the in-memory one used by tests, is a valid substrate for the scheduler
// and coordinator.
type Store interface {
	PutIntent(ctx context.Context, m *mandate.Intent) error
	GetIntent(ctx context.Context, mandateID string) (*mandate.Intent, error)
	PutCart(ctx context.Context, m *mandate.Cart) error
	GetCart(ctx context.Context, mandateID string) (*mandate.Cart, error)
	PutPayment(ctx context.Context, m *mandate.Payment) error

	// AppendTransaction writes the append-only audit record. Transactions
	// are never updated or deleted.
	AppendTransaction(ctx context.Context, t *mandate.Transaction) error
	ListTransactions(ctx context.Context, userID string) ([]mandate.Transaction, error)

	CreateJob(ctx context.Context, j *mandate.MonitoringJob) error
	GetJob(ctx context.Context, jobID string) (*mandate.MonitoringJob, error)
	// ListActiveJobs returns every job with the active flag set, for
	// scheduler resume on process start and for tick selection.
	ListActiveJobs(ctx context.Context) ([]mandate.MonitoringJob, error)
	ListJobsByUser(ctx context.Context, userID string, activeOnly bool) ([]mandate.MonitoringJob, error)
	// RecordCheck stamps last_check_at. Recorded unconditionally on every
	// evaluation, matched or not.
	RecordCheck(ctx context.Context, jobID string, at time.Time) error
	// DeactivateJob atomically flips active true->false and tags the
	// terminal reason. Returns flipped=false (and no error) when the job
	// was already inactive or does not exist; the reason is then left
	// untouched.
	DeactivateJob(ctx context.Context, jobID string, reason mandate.TerminalReason) (flipped bool, err error)
	// SetTerminalReason retags an already-inactive job. Only the caller that
	// won the flip may use it, to promote the pessimistic reason once the
	// payment outcome is known.
	SetTerminalReason(ctx context.Context, jobID string, reason mandate.TerminalReason) error
}

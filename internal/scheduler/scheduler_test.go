package scheduler

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"ghostcart/internal/coordinator"
	"ghostcart/internal/store"
	"ghostcart/pkg/credentials"
	"ghostcart/pkg/mandate"
	"ghostcart/pkg/merchant"
	"ghostcart/pkg/processor"
	"ghostcart/pkg/signature"
)

var testPricing = coordinator.Pricing{TaxRateBps: 800, FlatShippingCents: 1000}

type stubCatalog struct {
	mu       sync.Mutex
	products []merchant.Product
	calls    int
}

func (c *stubCatalog) Search(context.Context, string, int64) ([]merchant.Product, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	out := make([]merchant.Product, len(c.products))
	copy(out, c.products)
	return out, nil
}

func (c *stubCatalog) searchCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type recordingPlanner struct {
	mu       sync.Mutex
	planned  map[string]int64
	restored map[string]int64
}

func newRecordingPlanner() *recordingPlanner {
	return &recordingPlanner{planned: map[string]int64{}, restored: map[string]int64{}}
}

func (p *recordingPlanner) PlanPriceDrop(query string, target int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.planned[query] = target
}

func (p *recordingPlanner) RestorePriceDrop(query string, target int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.restored[query] = target
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testKeyring(t *testing.T) *signature.Keyring {
	t.Helper()
	k, err := signature.NewKeyring("secret-user", "secret-agent", "secret-payment")
	if err != nil {
		t.Fatalf("keyring: %v", err)
	}
	return k
}

func signedIntent(t *testing.T, k *signature.Keyring, now time.Time) *mandate.Intent {
	t.Helper()
	exp := now.Add(7 * 24 * time.Hour)
	intent := &mandate.Intent{
		MandateID:    mandate.NewIntentID(mandate.ScenarioDeferred),
		MandateType:  "intent",
		UserID:       "user_demo_001",
		Scenario:     mandate.ScenarioDeferred,
		ProductQuery: "coffee maker",
		Constraints: &mandate.Constraints{
			MaxPriceCents:   5500,
			MaxDeliveryDays: 5,
			Currency:        "USD",
		},
		Expiration: &exp,
	}
	payload, err := mandate.SigningPayload(intent)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	sig, err := k.SignAs(signature.RoleUser, payload, intent.UserID)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	intent.Signature = &sig
	return intent
}

func newTestScheduler(t *testing.T, st store.Store, catalog merchant.Catalog, planner PricePlanner) *Scheduler {
	t.Helper()
	k := testKeyring(t)
	coord := coordinator.New(st, k, catalog, processor.NewMock(true),
		credentials.NewStaticProvider(), testPricing, 5*time.Second, testLogger())
	return New(st, coord, planner, time.Hour, 10*time.Second, testPricing, 2, testLogger())
}

func TestActivateSnapshotsIntent(t *testing.T) {
	st := store.NewMemory()
	planner := newRecordingPlanner()
	s := newTestScheduler(t, st, &stubCatalog{}, planner)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	k := testKeyring(t)
	intent := signedIntent(t, k, now)
	if err := st.PutIntent(context.Background(), intent); err != nil {
		t.Fatalf("put intent: %v", err)
	}

	job, err := s.Activate(context.Background(), intent)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}
	if job.JobID != intent.MandateID {
		t.Errorf("job id = %s, want the intent id", job.JobID)
	}
	if !job.Active {
		t.Error("new job must start active")
	}
	if job.Constraints != *intent.Constraints {
		t.Errorf("constraints snapshot = %+v", job.Constraints)
	}
	if job.CheckInterval != 10*time.Second {
		t.Errorf("check interval = %s", job.CheckInterval)
	}
	if !job.ExpiresAt.Equal(intent.Expiration.UTC()) {
		t.Errorf("expires at = %v", job.ExpiresAt)
	}

	stored, err := st.GetJob(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("job not persisted: %v", err)
	}
	if stored.ProductQuery != "coffee maker" {
		t.Errorf("stored query = %q", stored.ProductQuery)
	}

	// Budget 5500 inverts to sticker 4166 under 8% tax and 1000 shipping.
	if got := planner.planned["coffee maker"]; got != 4166 {
		t.Errorf("planned drop target = %d, want 4166", got)
	}
}

func TestRunTickEvaluatesOnlyDueJobs(t *testing.T) {
	st := store.NewMemory()
	catalog := &stubCatalog{}
	s := newTestScheduler(t, st, catalog, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	k := testKeyring(t)
	due := signedIntent(t, k, now.Add(-time.Minute))
	notDue := signedIntent(t, k, now)
	for _, intent := range []*mandate.Intent{due, notDue} {
		if err := st.PutIntent(context.Background(), intent); err != nil {
			t.Fatalf("put intent: %v", err)
		}
	}

	recent := now.Add(-2 * time.Second)
	jobs := []*mandate.MonitoringJob{
		{
			JobID: due.MandateID, IntentID: due.MandateID, UserID: due.UserID,
			ProductQuery: due.ProductQuery, Constraints: *due.Constraints,
			CheckInterval: 10 * time.Second, Active: true,
			CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour),
		},
		{
			JobID: notDue.MandateID, IntentID: notDue.MandateID, UserID: notDue.UserID,
			ProductQuery: notDue.ProductQuery, Constraints: *notDue.Constraints,
			CheckInterval: 10 * time.Second, Active: true, LastCheckAt: &recent,
			CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour),
		},
	}
	for _, j := range jobs {
		if err := st.CreateJob(context.Background(), j); err != nil {
			t.Fatalf("create job: %v", err)
		}
	}

	s.runTick(context.Background())

	if got := catalog.searchCalls(); got != 1 {
		t.Errorf("catalog searched %d times, want 1 (only the due job)", got)
	}
	checked, err := st.GetJob(context.Background(), due.MandateID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if checked.LastCheckAt == nil || !checked.LastCheckAt.Equal(now) {
		t.Errorf("due job last check = %v, want %v", checked.LastCheckAt, now)
	}
	skipped, err := st.GetJob(context.Background(), notDue.MandateID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if !skipped.LastCheckAt.Equal(recent) {
		t.Error("not-due job must not be stamped")
	}
}

func TestExpiredJobIsRetired(t *testing.T) {
	st := store.NewMemory()
	catalog := &stubCatalog{products: []merchant.Product{{
		ProductID: "prod_coffee_001", Name: "Coffee Maker",
		PriceCents: 100, StockStatus: merchant.InStock, DeliveryEstimateDays: 1,
	}}}
	s := newTestScheduler(t, st, catalog, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	k := testKeyring(t)
	intent := signedIntent(t, k, now.Add(-8*24*time.Hour))
	if err := st.PutIntent(context.Background(), intent); err != nil {
		t.Fatalf("put intent: %v", err)
	}
	job := &mandate.MonitoringJob{
		JobID: intent.MandateID, IntentID: intent.MandateID, UserID: intent.UserID,
		ProductQuery: intent.ProductQuery, Constraints: *intent.Constraints,
		CheckInterval: 10 * time.Second, Active: true,
		CreatedAt: now.Add(-8 * 24 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}
	if err := st.CreateJob(context.Background(), job); err != nil {
		t.Fatalf("create job: %v", err)
	}

	s.runTick(context.Background())

	got, err := st.GetJob(context.Background(), job.JobID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Active {
		t.Fatal("expired job still active")
	}
	if got.TerminalReason != mandate.ReasonExpired {
		t.Errorf("terminal reason = %s, want expired", got.TerminalReason)
	}
	// Expiry wins over evaluation even when the product would match.
	if catalog.searchCalls() != 0 {
		t.Error("expired job must not reach the catalog")
	}
	if txns, _ := st.ListTransactions(context.Background(), ""); len(txns) != 0 {
		t.Error("expired job must not produce a transaction")
	}
}

func TestCancel(t *testing.T) {
	st := store.NewMemory()
	s := newTestScheduler(t, st, &stubCatalog{}, nil)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	k := testKeyring(t)
	intent := signedIntent(t, k, now)
	if err := st.PutIntent(context.Background(), intent); err != nil {
		t.Fatalf("put intent: %v", err)
	}
	job, err := s.Activate(context.Background(), intent)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	if _, err := s.Cancel(context.Background(), job.JobID, "user_demo_002"); err == nil {
		t.Error("cancel by a different user must fail")
	}

	got, err := s.Cancel(context.Background(), job.JobID, intent.UserID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got.Active || got.TerminalReason != mandate.ReasonCancelled {
		t.Errorf("job = active=%v reason=%s, want inactive/cancelled", got.Active, got.TerminalReason)
	}

	// Cancelling again is a no-op, and must not overwrite the reason of a
	// job that already completed some other way.
	again, err := s.Cancel(context.Background(), job.JobID, intent.UserID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if again.TerminalReason != mandate.ReasonCancelled {
		t.Errorf("second cancel reason = %s", again.TerminalReason)
	}

	if _, err := s.Cancel(context.Background(), "intent_hnp_missing000000", intent.UserID); err == nil {
		t.Error("cancelling an unknown job must fail")
	}
}

func TestStartResumesPersistedJobs(t *testing.T) {
	st := store.NewMemory()
	planner := newRecordingPlanner()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	k := testKeyring(t)
	active := signedIntent(t, k, now)
	retired := signedIntent(t, k, now)
	for _, intent := range []*mandate.Intent{active, retired} {
		if err := st.PutIntent(context.Background(), intent); err != nil {
			t.Fatalf("put intent: %v", err)
		}
	}
	for i, intent := range []*mandate.Intent{active, retired} {
		job := &mandate.MonitoringJob{
			JobID: intent.MandateID, IntentID: intent.MandateID, UserID: intent.UserID,
			ProductQuery: intent.ProductQuery, Constraints: *intent.Constraints,
			CheckInterval: 10 * time.Second, Active: i == 0,
			CreatedAt: now, ExpiresAt: now.Add(time.Hour),
		}
		if i != 0 {
			job.TerminalReason = mandate.ReasonCompleted
		}
		if err := st.CreateJob(context.Background(), job); err != nil {
			t.Fatalf("create job: %v", err)
		}
	}

	s := newTestScheduler(t, st, &stubCatalog{}, planner)
	s.now = func() time.Time { return now }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Stop()

	planner.mu.Lock()
	restored := len(planner.restored)
	planner.mu.Unlock()
	if restored != 1 {
		t.Errorf("restored %d price drops, want 1 (active jobs only)", restored)
	}
	if got := planner.restored["coffee maker"]; got != 4166 {
		t.Errorf("restored target = %d, want 4166", got)
	}
}

package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"ghostcart/pkg/mandate"
)

// Memory is the in-process Store. It backs tests and single-process demos;
// the compare-and-set in DeactivateJob is serialized by the mutex.
type Memory struct {
	mu           sync.Mutex
	intents      map[string]mandate.Intent
	carts        map[string]mandate.Cart
	payments     map[string]mandate.Payment
	transactions []mandate.Transaction
	jobs         map[string]mandate.MonitoringJob
}

func NewMemory() *Memory {
	return &Memory{
		intents:  make(map[string]mandate.Intent),
		carts:    make(map[string]mandate.Cart),
		payments: make(map[string]mandate.Payment),
		jobs:     make(map[string]mandate.MonitoringJob),
	}
}

func (s *Memory) PutIntent(_ context.Context, m *mandate.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[m.MandateID] = *m
	return nil
}

func (s *Memory) GetIntent(_ context.Context, mandateID string) (*mandate.Intent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.intents[mandateID]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *Memory) PutCart(_ context.Context, m *mandate.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.carts[m.MandateID] = *m
	return nil
}

func (s *Memory) GetCart(_ context.Context, mandateID string) (*mandate.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.carts[mandateID]
	if !ok {
		return nil, ErrNotFound
	}
	return &m, nil
}

func (s *Memory) PutPayment(_ context.Context, m *mandate.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[m.MandateID] = *m
	return nil
}

func (s *Memory) AppendTransaction(_ context.Context, t *mandate.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions = append(s.transactions, *t)
	return nil
}

func (s *Memory) ListTransactions(_ context.Context, userID string) ([]mandate.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mandate.Transaction
	for _, t := range s.transactions {
		if userID == "" || t.UserID == userID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *Memory) CreateJob(_ context.Context, j *mandate.MonitoringJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Job ids are primary keys: a replayed creation must not re-arm a job
	// that already reached a terminal state.
	if _, ok := s.jobs[j.JobID]; ok {
		return fmt.Errorf("job %s already exists", j.JobID)
	}
	s.jobs[j.JobID] = *j
	return nil
}

func (s *Memory) GetJob(_ context.Context, jobID string) (*mandate.MonitoringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return &j, nil
}

func (s *Memory) ListActiveJobs(_ context.Context) ([]mandate.MonitoringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mandate.MonitoringJob
	for _, j := range s.jobs {
		if j.Active {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	return out, nil
}

func (s *Memory) ListJobsByUser(_ context.Context, userID string, activeOnly bool) ([]mandate.MonitoringJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mandate.MonitoringJob
	for _, j := range s.jobs {
		if j.UserID != userID {
			continue
		}
		if activeOnly && !j.Active {
			continue
		}
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].JobID < out[k].JobID })
	return out, nil
}

func (s *Memory) RecordCheck(_ context.Context, jobID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	j.LastCheckAt = &at
	s.jobs[jobID] = j
	return nil
}

func (s *Memory) DeactivateJob(_ context.Context, jobID string, reason mandate.TerminalReason) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return false, nil
	}
	if !j.Active {
		return false, nil
	}
	j.Active = false
	j.TerminalReason = reason
	s.jobs[jobID] = j
	return true, nil
}

func (s *Memory) SetTerminalReason(_ context.Context, jobID string, reason mandate.TerminalReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[jobID]
	if !ok {
		return ErrNotFound
	}
	if j.Active {
		return nil
	}
	j.TerminalReason = reason
	s.jobs[jobID] = j
	return nil
}

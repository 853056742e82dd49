// Package subscriptiontest provides an in-memory subscription repository
// that enforces the same uniqueness rules as the Postgres schema.
package subscriptiontest

import (
	"context"
	"fmt"
	"sort"
	"sync"

	apperrors "pass-provisioning/internal/common/errors"
	"pass-provisioning/internal/models"
	"pass-provisioning/internal/subscription"
)

var _ subscription.Repository = (*Memory)(nil)

type Memory struct {
	mu        sync.Mutex
	byID      map[string]*models.Subscription
	bySession map[string]string
	byPayment map[string]string

	findFailures   int
	insertFailures int
	inserts        int
	finds          int

	// BeforeInsert, when set, runs after the guard read and before the
	// insert takes the lock. Tests use it to line up concurrent writers.
	BeforeInsert func()
}

func NewMemory() *Memory {
	return &Memory{
		byID:      make(map[string]*models.Subscription),
		bySession: make(map[string]string),
		byPayment: make(map[string]string),
	}
}

// FailFinds makes the next n FindByCorrelation calls return a transient error.
func (m *Memory) FailFinds(n int) {
	m.mu.Lock()
	m.findFailures = n
	m.mu.Unlock()
}

// FailInserts makes the next n Insert calls return a transient error.
func (m *Memory) FailInserts(n int) {
	m.mu.Lock()
	m.insertFailures = n
	m.mu.Unlock()
}

func (m *Memory) FindByCorrelation(ctx context.Context, c models.Correlation) (*models.Subscription, error) {
	if c.Empty() {
		return nil, apperrors.NewMetadataError("event carries neither session id nor payment id", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finds++

	if m.findFailures > 0 {
		m.findFailures--
		return nil, apperrors.NewTransientStoreError("memory.find", fmt.Errorf("store unreachable"))
	}

	if c.SessionID != "" {
		if id, ok := m.bySession[c.SessionID]; ok {
			return copySub(m.byID[id]), nil
		}
	}
	if c.PaymentID != "" {
		if id, ok := m.byPayment[c.PaymentID]; ok {
			return copySub(m.byID[id]), nil
		}
	}
	return nil, nil
}

func (m *Memory) Insert(ctx context.Context, sub *models.Subscription) error {
	if m.BeforeInsert != nil {
		m.BeforeInsert()
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.insertFailures > 0 {
		m.insertFailures--
		return apperrors.NewTransientStoreError("memory.insert", fmt.Errorf("lock timeout"))
	}

	if sub.SessionID != "" {
		if _, ok := m.bySession[sub.SessionID]; ok {
			return fmt.Errorf("%w: %s", subscription.ErrDuplicate, sub.Correlation())
		}
	}
	if sub.PaymentID != "" {
		if _, ok := m.byPayment[sub.PaymentID]; ok {
			return fmt.Errorf("%w: %s", subscription.ErrDuplicate, sub.Correlation())
		}
	}

	m.inserts++
	m.byID[sub.ID] = copySub(sub)
	if sub.SessionID != "" {
		m.bySession[sub.SessionID] = sub.ID
	}
	if sub.PaymentID != "" {
		m.byPayment[sub.PaymentID] = sub.ID
	}
	return nil
}

// Seed stores a subscription without touching failure counters.
func (m *Memory) Seed(sub *models.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[sub.ID] = copySub(sub)
	if sub.SessionID != "" {
		m.bySession[sub.SessionID] = sub.ID
	}
	if sub.PaymentID != "" {
		m.byPayment[sub.PaymentID] = sub.ID
	}
}

func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// Inserts counts successful inserts.
func (m *Memory) Inserts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inserts
}

func (m *Memory) All() []*models.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Subscription, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, copySub(s))
	}
	return out
}

// ListByBeneficiary mirrors Store.ListByBeneficiary: newest activation first.
func (m *Memory) ListByBeneficiary(ctx context.Context, tenantID, beneficiaryID string) ([]*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findFailures > 0 {
		m.findFailures--
		return nil, apperrors.NewTransientStoreError("subscription.list", fmt.Errorf("injected failure"))
	}
	var out []*models.Subscription
	for _, s := range m.byID {
		if s.TenantID == tenantID && s.BeneficiaryID == beneficiaryID {
			out = append(out, copySub(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ActivatedAt.After(out[j].ActivatedAt) })
	return out, nil
}

func copySub(s *models.Subscription) *models.Subscription {
	if s == nil {
		return nil
	}
	c := *s
	if s.UsageLimit != nil {
		limit := *s.UsageLimit
		c.UsageLimit = &limit
	}
	return &c
}

// ABOUTME: In-memory TenantStore for tests
// ABOUTME: Records every upsert and can be told to fail

package store

import (
	"context"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/2389/coven-fleet/internal/apperr"
)

// MockStore is an in-memory TenantStore for tests.
type MockStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	upserts []Tenant

	// Err, when set, is returned (tagged as a persistence error) by every call.
	Err error
}

// NewMockStore creates an empty MockStore seeded with tenants.
func NewMockStore(tenants ...*Tenant) *MockStore {
	m := &MockStore{tenants: make(map[string]*Tenant)}
	now := time.Now()
	for _, t := range tenants {
		m.tenants[t.Token] = stamp(t, nil, now)
	}
	return m
}

// FindAll returns matching tenants, oldest first.
func (m *MockStore) FindAll(_ context.Context, filter Filter) ([]*Tenant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.Err != nil {
		return nil, apperr.Wrap(apperr.ErrPersistence, m.Err)
	}

	out := lo.FilterMap(lo.Values(m.tenants), func(t *Tenant, _ int) (*Tenant, bool) {
		if !filter.Matches(t) {
			return nil, false
		}
		cp := *t
		return &cp, true
	})
	sortTenants(out)
	return out, nil
}

// Upsert stores a copy of t and records the call.
func (m *MockStore) Upsert(_ context.Context, t *Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return apperr.Wrap(apperr.ErrPersistence, m.Err)
	}

	m.upserts = append(m.upserts, *t)
	m.tenants[t.Token] = stamp(t, m.tenants[t.Token], time.Now())
	return nil
}

// Delete removes a tenant by token.
func (m *MockStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return apperr.Wrap(apperr.ErrPersistence, m.Err)
	}
	if _, ok := m.tenants[token]; !ok {
		return ErrNotFound
	}
	delete(m.tenants, token)
	return nil
}

// Close is a no-op.
func (m *MockStore) Close() error {
	return nil
}

// Upserts returns copies of every tenant passed to Upsert, in call order.
func (m *MockStore) Upserts() []Tenant {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Tenant(nil), m.upserts...)
}

// Get returns the stored tenant for token.
func (m *MockStore) Get(token string) (*Tenant, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tenants[token]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// SetErr makes every later call fail with err (nil clears it).
func (m *MockStore) SetErr(err error) {
	m.mu.Lock()
	m.Err = err
	m.mu.Unlock()
}

// ABOUTME: TenantStore interface and the Tenant record for coven-fleet persistence
// ABOUTME: Tenants are keyed by bot access token; all backends share filter and ordering rules

package store

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"time"
)

// ErrNotFound is returned when a requested tenant does not exist
var ErrNotFound = errors.New("not found")

// Tenant is one workspace's bot integration.
type Tenant struct {
	// Token is the bot access token and the primary key. Never log it whole; use Preview.
	Token     string    `json:"token"`
	BotUserID string    `json:"bot_user_id"`
	TeamID    string    `json:"team_id"`
	Team      string    `json:"team"`
	CreatedBy string    `json:"created_by"`
	FirstRun  bool      `json:"first_run"`
	NLUActive bool      `json:"nlu_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Preview returns the tenant token in loggable form.
func (t *Tenant) Preview() string {
	return Preview(t.Token)
}

// Preview shortens a secret token to its first 12 characters plus "***".
// Tokens too short to shorten are hidden entirely.
func Preview(token string) string {
	const keep = 12
	if len(token) <= keep {
		return "***"
	}
	return token[:keep] + "***"
}

// Filter narrows FindAll. The zero Filter matches every tenant.
type Filter struct {
	TeamID    string
	NLUActive *bool
}

// Matches reports whether t passes the filter.
func (f Filter) Matches(t *Tenant) bool {
	if f.TeamID != "" && t.TeamID != f.TeamID {
		return false
	}
	if f.NLUActive != nil && t.NLUActive != *f.NLUActive {
		return false
	}
	return true
}

// TenantStore is the durable record of tenants. Failures are tagged
// apperr.ErrPersistence.
type TenantStore interface {
	// FindAll returns matching tenants ordered by creation time, then token.
	FindAll(ctx context.Context, filter Filter) ([]*Tenant, error)
	// Upsert inserts t or replaces the record with the same token, keeping
	// the stored CreatedAt.
	Upsert(ctx context.Context, t *Tenant) error
	// Delete removes the tenant with token. Returns ErrNotFound if absent.
	Delete(ctx context.Context, token string) error
	Close() error
}

// sortTenants applies the FindAll ordering in place.
func sortTenants(tenants []*Tenant) {
	slices.SortFunc(tenants, func(a, b *Tenant) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Token, b.Token)
	})
}

// stamp prepares a record for writing. prev is the stored record, if any.
func stamp(t *Tenant, prev *Tenant, now time.Time) *Tenant {
	rec := *t
	switch {
	case prev != nil && !prev.CreatedAt.IsZero():
		rec.CreatedAt = prev.CreatedAt
	case rec.CreatedAt.IsZero():
		rec.CreatedAt = now
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = now.UTC()
	return &rec
}

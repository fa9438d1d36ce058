// Package store persists tenants for coven-fleet.
//
// # Architecture
//
// TenantStore is a thin key/value abstraction keyed by bot access token.
// It is the source of truth on restart: the fleet reloads every tenant
// with FindAll and reconnects them. Three backends implement it:
//
//   - SQLiteStore: modernc.org/sqlite in WAL mode (the default)
//   - RedisStore: a single Redis hash of JSON records
//   - BadgerStore: an embedded Badger v4 key space under "tenant/"
//
// Open picks one from the database URL. MockStore is an in-memory
// implementation for tests that records upserts.
//
// # Data Model
//
//   - Tenant: token, bot user id, workspace id and name, the installing
//     user, first-run and NLU-active flags, timestamps
//
// Tokens are secrets. Log them through Preview, which keeps the first
// twelve characters only.
//
// # Semantics
//
// FindAll orders by created_at then token on every backend. Upsert keeps
// the stored created_at. All backend failures are tagged
// apperr.ErrPersistence; callers log them and keep running.
//
// # Usage
//
//	s, err := store.Open(ctx, cfg.Database.URL, logger)
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	tenants, err := s.FindAll(ctx, store.Filter{})
package store

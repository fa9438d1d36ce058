// ABOUTME: Badger v4 implementation of TenantStore for single-node embedded deployments
// ABOUTME: Tenants live under the "tenant/" key prefix as JSON values

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/samber/lo"

	"github.com/2389/coven-fleet/internal/apperr"
)

const tenantPrefix = "tenant/"

// BadgerStore implements TenantStore on an embedded Badger database.
type BadgerStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBadgerStore opens (or creates) a Badger database in dir. An empty dir
// or "memory" opens an in-memory database.
func NewBadgerStore(dir string, logger *slog.Logger) (*BadgerStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "backend", "badger")

	var opts badger.Options
	if dir == "" || dir == "memory" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.WithLogger(badgerLogger{logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger: %w", err)
	}

	logger.Info("Badger store initialized", "dir", dir)
	return &BadgerStore{db: db, logger: logger}, nil
}

func tenantKey(token string) []byte {
	return []byte(tenantPrefix + token)
}

// FindAll returns tenants matching filter, oldest first.
func (s *BadgerStore) FindAll(_ context.Context, filter Filter) ([]*Tenant, error) {
	var tenants []*Tenant

	err := s.db.View(func(txn *badger.Txn) error {
		prefix := []byte(tenantPrefix)
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			err := item.Value(func(val []byte) error {
				var t Tenant
				if err := json.Unmarshal(val, &t); err != nil {
					s.logger.Warn("skipping undecodable tenant record", "key", Preview(string(item.Key())), "error", err)
					return nil
				}
				tenants = append(tenants, &t)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("reading tenants: %w", err))
	}

	tenants = lo.Filter(tenants, func(t *Tenant, _ int) bool { return filter.Matches(t) })
	sortTenants(tenants)
	return tenants, nil
}

// Upsert writes t, keeping the stored created_at.
func (s *BadgerStore) Upsert(_ context.Context, t *Tenant) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		var prev *Tenant
		item, err := txn.Get(tenantKey(t.Token))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				var old Tenant
				if json.Unmarshal(val, &old) == nil {
					prev = &old
				}
				return nil
			})
			if err != nil {
				return err
			}
		}

		encoded, err := json.Marshal(stamp(t, prev, time.Now()))
		if err != nil {
			return fmt.Errorf("encoding tenant: %w", err)
		}
		return txn.Set(tenantKey(t.Token), encoded)
	})
	if err != nil {
		return apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("upserting tenant: %w", err))
	}

	s.logger.Debug("upserted tenant", "token", Preview(t.Token), "team_id", t.TeamID)
	return nil
}

// Delete removes a tenant by token.
func (s *BadgerStore) Delete(_ context.Context, token string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(tenantKey(token)); err != nil {
			return err
		}
		return txn.Delete(tenantKey(token))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("deleting tenant: %w", err))
	}
	return nil
}

// Close closes the database.
func (s *BadgerStore) Close() error {
	s.logger.Info("closing Badger store")
	return s.db.Close()
}

// badgerLogger routes Badger's printf-style logging into slog. Info and
// debug chatter is demoted to debug.
type badgerLogger struct {
	l *slog.Logger
}

func (b badgerLogger) Errorf(format string, args ...any) {
	b.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Warningf(format string, args ...any) {
	b.l.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Infof(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (b badgerLogger) Debugf(format string, args ...any) {
	b.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

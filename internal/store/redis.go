// ABOUTME: Redis implementation of TenantStore using go-redis/v9
// ABOUTME: One hash holds every tenant as JSON, keyed by token

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/samber/lo"

	"github.com/2389/coven-fleet/internal/apperr"
)

// DefaultRedisKey is the hash that holds tenant records.
const DefaultRedisKey = "coven:tenants"

// RedisStore implements TenantStore on a Redis hash.
type RedisStore struct {
	rdb    *redis.Client
	key    string
	logger *slog.Logger
}

// NewRedisStore connects to the server at url (redis:// or rediss://) and
// checks it answers.
func NewRedisStore(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("pinging redis: %w", err))
	}

	s := NewRedisStoreFromClient(rdb, DefaultRedisKey, logger)
	s.logger.Info("Redis store initialized", "addr", opts.Addr, "db", opts.DB)
	return s, nil
}

// NewRedisStoreFromClient wraps an existing client, storing tenants under key.
func NewRedisStoreFromClient(rdb *redis.Client, key string, logger *slog.Logger) *RedisStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisStore{
		rdb:    rdb,
		key:    key,
		logger: logger.With("component", "store", "backend", "redis"),
	}
}

// FindAll returns tenants matching filter, oldest first.
func (s *RedisStore) FindAll(ctx context.Context, filter Filter) ([]*Tenant, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("reading tenants: %w", err))
	}

	tenants := make([]*Tenant, 0, len(raw))
	for token, data := range raw {
		var t Tenant
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			s.logger.Warn("skipping undecodable tenant record", "token", Preview(token), "error", err)
			continue
		}
		tenants = append(tenants, &t)
	}

	tenants = lo.Filter(tenants, func(t *Tenant, _ int) bool { return filter.Matches(t) })
	sortTenants(tenants)
	return tenants, nil
}

// Upsert writes t inside a WATCH transaction so a concurrent writer cannot
// reset created_at.
func (s *RedisStore) Upsert(ctx context.Context, t *Tenant) error {
	txf := func(tx *redis.Tx) error {
		var prev *Tenant
		data, err := tx.HGet(ctx, s.key, t.Token).Bytes()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			var old Tenant
			if json.Unmarshal(data, &old) == nil {
				prev = &old
			}
		}

		rec := stamp(t, prev, time.Now())
		encoded, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("encoding tenant: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.key, rec.Token, encoded)
			return nil
		})
		return err
	}

	if err := s.rdb.Watch(ctx, txf, s.key); err != nil {
		return apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("upserting tenant: %w", err))
	}

	s.logger.Debug("upserted tenant", "token", Preview(t.Token), "team_id", t.TeamID)
	return nil
}

// Delete removes a tenant by token.
func (s *RedisStore) Delete(ctx context.Context, token string) error {
	n, err := s.rdb.HDel(ctx, s.key, token).Result()
	if err != nil {
		return apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("deleting tenant: %w", err))
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Close closes the client.
func (s *RedisStore) Close() error {
	s.logger.Info("closing Redis store")
	return s.rdb.Close()
}

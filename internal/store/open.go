// ABOUTME: Chooses a TenantStore backend from a database URL
// ABOUTME: sqlite://, redis://, rediss://, badger://, or a bare SQLite path

package store

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Open returns the TenantStore named by url.
//
//	sqlite:///var/lib/fleet.db   SQLite file
//	sqlite://:memory:            SQLite in memory
//	redis://host:6379/0          Redis hash (rediss:// for TLS)
//	badger:///var/lib/fleet      Badger directory
//	badger://memory              Badger in memory
//	./fleet.db                   anything else is a SQLite path
func Open(ctx context.Context, url string, logger *slog.Logger) (TenantStore, error) {
	switch {
	case url == "":
		return nil, fmt.Errorf("database url is empty")
	case strings.HasPrefix(url, "redis://"), strings.HasPrefix(url, "rediss://"):
		return NewRedisStore(ctx, url, logger)
	case strings.HasPrefix(url, "badger://"):
		return NewBadgerStore(strings.TrimPrefix(url, "badger://"), logger)
	case strings.HasPrefix(url, "sqlite://"):
		return NewSQLiteStore(strings.TrimPrefix(url, "sqlite://"), logger)
	case strings.Contains(url, "://"):
		scheme, _, _ := strings.Cut(url, "://")
		return nil, fmt.Errorf("unsupported database scheme %q", scheme)
	default:
		return NewSQLiteStore(url, logger)
	}
}

// ABOUTME: SQLite implementation of TenantStore using modernc.org/sqlite
// ABOUTME: WAL mode, automatic schema creation, idempotent column migrations

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/coven-fleet/internal/apperr"
)

// sortableTime is fixed width so created_at orders correctly as text.
const sortableTime = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore implements TenantStore using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed. ":memory:" keeps everything in
// a single in-process connection.
func NewSQLiteStore(path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store", "backend", "sqlite")

	inMemory := path == ":memory:"
	if !inMemory {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if inMemory {
		// every new connection would be a fresh, empty database
		db.SetMaxOpenConns(1)
	}

	// Enable WAL mode for better concurrent performance
	if !inMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enabling WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tenants (
			token       TEXT PRIMARY KEY,
			bot_user_id TEXT NOT NULL DEFAULT '',
			team_id     TEXT NOT NULL DEFAULT '',
			team        TEXT NOT NULL DEFAULT '',
			created_by  TEXT NOT NULL DEFAULT '',
			first_run   INTEGER NOT NULL DEFAULT 1,
			nlu_active  INTEGER NOT NULL DEFAULT 1,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tenants_team ON tenants(team_id);
		CREATE INDEX IF NOT EXISTS idx_tenants_created ON tenants(created_at, token);
	`
	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns missing from databases created by older builds.
// These are idempotent - safe to run multiple times.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		column string
		apply  string
	}{
		{"bot_user_id", `ALTER TABLE tenants ADD COLUMN bot_user_id TEXT NOT NULL DEFAULT ''`},
		{"nlu_active", `ALTER TABLE tenants ADD COLUMN nlu_active INTEGER NOT NULL DEFAULT 1`},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info('tenants') WHERE name = ?`, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s column: %w", m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to tenants: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "tenants")
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// FindAll returns tenants matching filter, oldest first.
func (s *SQLiteStore) FindAll(ctx context.Context, filter Filter) ([]*Tenant, error) {
	var (
		where []string
		args  []any
	)
	if filter.TeamID != "" {
		where = append(where, "team_id = ?")
		args = append(args, filter.TeamID)
	}
	if filter.NLUActive != nil {
		where = append(where, "nlu_active = ?")
		args = append(args, boolInt(*filter.NLUActive))
	}

	query := `
		SELECT token, bot_user_id, team_id, team, created_by, first_run, nlu_active, created_at, updated_at
		FROM tenants`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, token"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("querying tenants: %w", err))
	}
	defer rows.Close()

	var tenants []*Tenant
	for rows.Next() {
		t, err := scanTenant(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.ErrPersistence, err)
		}
		tenants = append(tenants, t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("iterating tenants: %w", err))
	}
	return tenants, nil
}

// Upsert inserts or replaces a tenant by token. created_at is never overwritten.
func (s *SQLiteStore) Upsert(ctx context.Context, t *Tenant) error {
	rec := stamp(t, nil, time.Now())

	query := `
		INSERT INTO tenants (token, bot_user_id, team_id, team, created_by, first_run, nlu_active, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(token) DO UPDATE SET
			bot_user_id = excluded.bot_user_id,
			team_id     = excluded.team_id,
			team        = excluded.team,
			created_by  = excluded.created_by,
			first_run   = excluded.first_run,
			nlu_active  = excluded.nlu_active,
			updated_at  = excluded.updated_at
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.Token,
		rec.BotUserID,
		rec.TeamID,
		rec.Team,
		rec.CreatedBy,
		boolInt(rec.FirstRun),
		boolInt(rec.NLUActive),
		rec.CreatedAt.Format(sortableTime),
		rec.UpdatedAt.Format(sortableTime),
	)
	if err != nil {
		return apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("upserting tenant: %w", err))
	}

	s.logger.Debug("upserted tenant", "token", rec.Preview(), "team_id", rec.TeamID, "first_run", rec.FirstRun)
	return nil
}

// Delete removes a tenant by token.
func (s *SQLiteStore) Delete(ctx context.Context, token string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tenants WHERE token = ?`, token)
	if err != nil {
		return apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("deleting tenant: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.ErrPersistence, fmt.Errorf("checking delete result: %w", err))
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanTenant(rows *sql.Rows) (*Tenant, error) {
	var (
		t                    Tenant
		firstRun, nluActive  int
		createdAt, updatedAt string
	)
	err := rows.Scan(&t.Token, &t.BotUserID, &t.TeamID, &t.Team, &t.CreatedBy,
		&firstRun, &nluActive, &createdAt, &updatedAt)
	if err != nil {
		return nil, fmt.Errorf("scanning tenant: %w", err)
	}

	t.FirstRun = firstRun != 0
	t.NLUActive = nluActive != 0
	if t.CreatedAt, err = time.Parse(sortableTime, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(sortableTime, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &t, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

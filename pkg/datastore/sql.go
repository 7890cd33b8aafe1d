// Package datastore persists the presence audit log in SQLite.
package datastore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/relaychat/pkg/model"
)

const dbTimeLayout = "2006-01-02 15:04:05.000"

var (
	ErrPresenceInvalid  = errors.New("datastore: presence requires session id and name")
	ErrPresenceNotFound = errors.New("datastore: no open presence for session")
)

// SQLStore is the SQLite-backed PresenceStore.
type SQLStore struct {
	DB *sql.DB
}

// Open opens (or creates) a SQLite database and runs migrations.
func Open(dbPath string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()

	// WAL keeps readers (exports) off the writers' backs
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set WAL: %w", err)
	}
	// every session goroutine writes on join and leave
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: set busy_timeout: %w", err)
	}

	s := &SQLStore{DB: db}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.DB.Close()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS presence (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id  TEXT    NOT NULL UNIQUE,
		name        TEXT    NOT NULL CHECK(length(name) > 0),
		remote_addr TEXT    NOT NULL DEFAULT '',
		joined_at   TEXT    NOT NULL,
		left_at     TEXT
	);`

	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	migrations := []struct {
		version    int
		statements []string
	}{
		{
			version:    1,
			statements: []string{schema},
		},
		{
			version: 2,
			statements: []string{
				"CREATE INDEX IF NOT EXISTS presence_name_idx ON presence (name)",
				"CREATE INDEX IF NOT EXISTS presence_open_idx ON presence (left_at) WHERE left_at IS NULL",
			},
		},
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("datastore: migrate v%d: %w", m.version, err)
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.DB.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.DB.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.DB.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.DB.ExecContext(ctx, "UPDATE schema_migrations SET version = ?", version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

// ---- Presence ----

// RecordJoin inserts an open presence row and sets p.ID.
// A zero JoinedAt is replaced by the current time.
func (s *SQLStore) RecordJoin(ctx context.Context, p *model.Presence) error {
	if p.SessionID == "" || strings.TrimSpace(p.Name) == "" {
		return ErrPresenceInvalid
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = time.Now()
	}
	p.JoinedAt = p.JoinedAt.UTC().Truncate(time.Millisecond)

	res, err := s.DB.ExecContext(ctx,
		"INSERT INTO presence (session_id, name, remote_addr, joined_at) VALUES (?, ?, ?, ?)",
		p.SessionID, p.Name, p.RemoteAddr, formatDBTime(p.JoinedAt))
	if err != nil {
		return fmt.Errorf("datastore: record join: %w", err)
	}
	p.ID, _ = res.LastInsertId()
	return nil
}

// RecordLeave closes the open presence row of a session.
func (s *SQLStore) RecordLeave(ctx context.Context, sessionID string, at time.Time) error {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE presence SET left_at = ? WHERE session_id = ? AND left_at IS NULL",
		formatDBTime(at), sessionID)
	if err != nil {
		return fmt.Errorf("datastore: record leave: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: record leave: %w", err)
	}
	if n == 0 {
		return ErrPresenceNotFound
	}
	return nil
}

// CloseDangling marks every still-open row as left at the given time.
// The server calls it at startup so rows from an unclean stop do not read
// as online forever.
func (s *SQLStore) CloseDangling(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx,
		"UPDATE presence SET left_at = ? WHERE left_at IS NULL", formatDBTime(at))
	if err != nil {
		return 0, fmt.Errorf("datastore: close dangling: %w", err)
	}
	return res.RowsAffected()
}

// ListPresence returns presence rows, newest first.
func (s *SQLStore) ListPresence(ctx context.Context, filters model.PresenceFilters) ([]model.Presence, error) {
	query := `
		SELECT id, session_id, name, remote_addr, joined_at, left_at
		FROM presence
		WHERE (? IS NULL OR name = ?)
		AND (? = 0 OR left_at IS NULL)
		ORDER BY id DESC
		LIMIT COALESCE(?, 100)
		OFFSET COALESCE(?, 0)
	`

	onlineOnly := 0
	if filters.OnlineOnly {
		onlineOnly = 1
	}

	rows, err := s.DB.QueryContext(ctx, query,
		filters.Name, filters.Name,
		onlineOnly,
		filters.PageSize,
		filters.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("datastore: list presence: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []model.Presence
	for rows.Next() {
		var p model.Presence
		var joinedAt string
		var leftAt sql.NullString
		if err := rows.Scan(&p.ID, &p.SessionID, &p.Name, &p.RemoteAddr, &joinedAt, &leftAt); err != nil {
			return nil, fmt.Errorf("datastore: scan presence: %w", err)
		}
		if p.JoinedAt, err = parseDBTime(joinedAt); err != nil {
			return nil, fmt.Errorf("datastore: scan presence: %w", err)
		}
		if leftAt.Valid {
			if p.LeftAt, err = parseDBTime(leftAt.String); err != nil {
				return nil, fmt.Errorf("datastore: scan presence: %w", err)
			}
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

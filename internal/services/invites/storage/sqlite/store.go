// Package sqlite provides the SQLite-backed reference implementation of the
// invite storage contracts.
package sqlite

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	sqlitemigrate "github.com/tabsplit/tabsplit/internal/platform/storage/sqlitemigrate"
	"github.com/tabsplit/tabsplit/internal/services/invites/domain/invite"
	"github.com/tabsplit/tabsplit/internal/services/invites/storage/sqlite/migrations"
	_ "modernc.org/sqlite"
)

// Store provides SQLite-backed persistence for invite state, group
// membership application and the invite email outbox.
type Store struct {
	sqlDB *sql.DB
}

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// toNullMillis maps optional domain times to sql.NullInt64 for nullable DB columns.
func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

// fromNullMillis maps nullable SQL timestamps back into optional domain time values.
func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Open opens an invites SQLite store at the provided path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_pragma=foreign_keys(ON)"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	store := &Store{sqlDB: sqlDB}
	if err := store.runMigrations(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return store, nil
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func (s *Store) runMigrations() error {
	return sqlitemigrate.ApplyMigrations(s.sqlDB, migrations.FS, "")
}

// isUniqueConstraintError reports whether the driver rejected a write for
// violating a uniqueness constraint.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	value := err.Error()
	return strings.Contains(value, "UNIQUE constraint failed") ||
		strings.Contains(value, "constraint failed: invites.")
}

func inviteStatusToString(status invite.Status) string {
	switch status {
	case invite.StatusPending:
		return "pending"
	case invite.StatusAccepted:
		return "accepted"
	case invite.StatusExpired:
		return "expired"
	case invite.StatusCancelled:
		return "cancelled"
	default:
		return ""
	}
}

func inviteStatusFromString(value string) (invite.Status, error) {
	switch value {
	case "pending":
		return invite.StatusPending, nil
	case "accepted":
		return invite.StatusAccepted, nil
	case "expired":
		return invite.StatusExpired, nil
	case "cancelled":
		return invite.StatusCancelled, nil
	default:
		return invite.StatusUnspecified, fmt.Errorf("unknown invite status %q", value)
	}
}

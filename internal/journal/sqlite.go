package journal

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/route-share/backend/internal/db"
)

// SQLite stores entries in the journal_entries table.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the journal database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite journal requires a path")
	}
	conn, err := db.Open(path)
	if err != nil {
		return nil, err
	}
	return NewSQLite(conn), nil
}

// NewSQLite wraps an already migrated database.
func NewSQLite(conn *sql.DB) *SQLite {
	return &SQLite{db: conn}
}

// Record inserts an entry.
func (s *SQLite) Record(ctx context.Context, entry Entry) error {
	query := `
		INSERT INTO journal_entries (kind, connection_id, identity_id, display_name, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.Kind,
		entry.ConnectionID,
		nullString(entry.IdentityID),
		nullString(entry.DisplayName),
		nullString(entry.Reason),
		entry.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record journal entry: %w", err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (s *SQLite) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultMemoryCapacity
	}

	query := `
		SELECT id, kind, connection_id, identity_id, display_name, reason, created_at
		FROM journal_entries
		ORDER BY id DESC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var entry Entry
		var identityID, displayName, reason sql.NullString

		if err := rows.Scan(
			&entry.ID,
			&entry.Kind,
			&entry.ConnectionID,
			&identityID,
			&displayName,
			&reason,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan journal entry: %w", err)
		}
		entry.IdentityID = identityID.String
		entry.DisplayName = displayName.String
		entry.Reason = reason.String
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate journal entries: %w", err)
	}
	return entries, nil
}

// Close closes the database.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

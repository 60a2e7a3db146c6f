package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/cp5337/sx9-sub010/internal/drift"
	"github.com/cp5337/sx9-sub010/internal/identity"
)

// ErrNotFound is returned by single-row reads with no matching row.
var ErrNotFound = errors.New("store: not found")

// IdentifierRecord is one entry of a lineage's identifier history.
type IdentifierRecord struct {
	Seq        int64
	Lineage    string
	Identifier identity.Identifier
	// Class is the drift class that caused the identifier. The first
	// identifier of a lineage is recorded with drift.None.
	Class     drift.Class
	CreatedAt time.Time
}

// RecordIdentifier appends id to the lineage's history.
// Recording the same identifier twice appends twice: history is a log of
// observations, not a set.
func (s *Store) RecordIdentifier(ctx context.Context, lineage string, id identity.Identifier, class drift.Class) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("record identifier: %w", err)
	}
	if !class.Valid() {
		return fmt.Errorf("record identifier: unknown drift class %d", uint8(class))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO identifiers (lineage, identifier, class, created_at)
		VALUES (?, ?, ?, ?)
	`,
		lineage,
		id.String(),
		class.String(),
		micros(id.CreatedAt()),
	)
	if err != nil {
		return fmt.Errorf("record identifier: %w", err)
	}
	return nil
}

// LineageHistory returns every identifier recorded for lineage in
// insertion order. Returns an empty slice (not nil) for an unknown lineage.
func (s *Store) LineageHistory(ctx context.Context, lineage string) ([]IdentifierRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, lineage, identifier, class, created_at
		FROM identifiers
		WHERE lineage = ?
		ORDER BY seq ASC
	`, lineage)
	if err != nil {
		return nil, fmt.Errorf("query identifiers: %w", err)
	}
	defer rows.Close()

	records := []IdentifierRecord{}
	for rows.Next() {
		rec, err := scanIdentifier(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identifiers: %w", err)
	}
	return records, nil
}

// Latest returns the most recent identifier for lineage, or ErrNotFound.
func (s *Store) Latest(ctx context.Context, lineage string) (IdentifierRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, lineage, identifier, class, created_at
		FROM identifiers
		WHERE lineage = ?
		ORDER BY seq DESC
		LIMIT 1
	`, lineage)
	rec, err := scanIdentifier(row)
	if errors.Is(err, sql.ErrNoRows) {
		return IdentifierRecord{}, fmt.Errorf("latest %q: %w", lineage, ErrNotFound)
	}
	return rec, err
}

// Lineages returns every lineage with recorded history, sorted by name.
func (s *Store) Lineages(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT lineage FROM identifiers ORDER BY lineage COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("query lineages: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan lineage: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lineages: %w", err)
	}
	return names, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanIdentifier(row scanner) (IdentifierRecord, error) {
	var (
		rec       IdentifierRecord
		text      string
		className string
		created   int64
	)
	if err := row.Scan(&rec.Seq, &rec.Lineage, &text, &className, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return rec, err
		}
		return rec, fmt.Errorf("scan identifier: %w", err)
	}

	id, err := identity.Parse(text)
	if err != nil {
		return rec, fmt.Errorf("scan identifier seq %d: %w", rec.Seq, err)
	}
	class, err := drift.ParseClass(className)
	if err != nil {
		return rec, fmt.Errorf("scan identifier seq %d: %w", rec.Seq, err)
	}
	rec.Identifier = id
	rec.Class = class
	rec.CreatedAt = fromMicros(created)
	return rec, nil
}

package store

import (
	"context"
	"fmt"

	"github.com/cp5337/sx9-sub010/internal/gate"
)

// TransitionRecord is one stored gate transition.
type TransitionRecord struct {
	Seq    int64
	Signal string
	gate.Transition
}

// RecordTransition appends a gate transition for signal.
func (s *Store) RecordTransition(ctx context.Context, signal string, tr gate.Transition) error {
	if !tr.From.Kind.Valid() || !tr.To.Kind.Valid() {
		return fmt.Errorf("record transition: invalid state %d->%d", tr.From.Kind, tr.To.Kind)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_transitions
		(signal, from_state, from_since, to_state, to_since, input, at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		signal,
		tr.From.Kind.String(),
		micros(tr.From.Since),
		tr.To.Kind.String(),
		micros(tr.To.Since),
		tr.Input,
		micros(tr.At),
	)
	if err != nil {
		return fmt.Errorf("record transition: %w", err)
	}
	return nil
}

// Transitions returns the transitions recorded for signal in insertion
// order. Returns an empty slice (not nil) for an unknown signal.
func (s *Store) Transitions(ctx context.Context, signal string) ([]TransitionRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, signal, from_state, from_since, to_state, to_since, input, at
		FROM gate_transitions
		WHERE signal = ?
		ORDER BY seq ASC
	`, signal)
	if err != nil {
		return nil, fmt.Errorf("query transitions: %w", err)
	}
	defer rows.Close()

	records := []TransitionRecord{}
	for rows.Next() {
		var (
			rec                TransitionRecord
			from, to           string
			fromSince, toSince int64
			at                 int64
		)
		if err := rows.Scan(&rec.Seq, &rec.Signal, &from, &fromSince, &to, &toSince, &rec.Input, &at); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		if rec.From.Kind, err = gate.ParseKind(from); err != nil {
			return nil, fmt.Errorf("scan transition seq %d: %w", rec.Seq, err)
		}
		if rec.To.Kind, err = gate.ParseKind(to); err != nil {
			return nil, fmt.Errorf("scan transition seq %d: %w", rec.Seq, err)
		}
		rec.From.Since = fromMicros(fromSince)
		rec.To.Since = fromMicros(toSince)
		rec.At = fromMicros(at)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}
	return records, nil
}

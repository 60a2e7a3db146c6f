package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/cp5337/sx9-sub010/internal/ring"
)

// ClaimMessage records that node consumed messageID. It returns true the
// first time the pair is seen and false for every repeat, including
// repeats after the process restarts. A first claim also raises the
// source's mark in node_sequences, in the same transaction.
func (s *Store) ClaimMessage(ctx context.Context, node uint16, messageID uint64) (fresh bool, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("claim message %#x at node %d: %w", messageID, node, err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO consumed_messages (node, message_id)
		VALUES (?, ?)
		ON CONFLICT(node, message_id) DO NOTHING
	`, node, int64(messageID))
	if err != nil {
		return false, fmt.Errorf("claim message %#x at node %d: %w", messageID, node, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim message %#x at node %d: %w", messageID, node, err)
	}

	if n == 1 {
		source, seq := ring.SplitMessageID(messageID)
		if _, err = tx.ExecContext(ctx, `
			INSERT INTO node_sequences (node, last_seq)
			VALUES (?, ?)
			ON CONFLICT(node) DO UPDATE SET last_seq = MAX(last_seq, excluded.last_seq)
		`, source, int64(seq)); err != nil {
			return false, fmt.Errorf("raise sequence mark for node %d: %w", source, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return false, fmt.Errorf("claim message %#x at node %d: %w", messageID, node, err)
	}
	return n == 1, nil
}

// LastSequence returns the highest sequence on record for messages sent by
// source, or 0 if none of them was ever consumed.
func (s *Store) LastSequence(ctx context.Context, source uint16) (uint64, error) {
	var last int64
	err := s.db.QueryRowContext(ctx,
		"SELECT last_seq FROM node_sequences WHERE node = ?", source,
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("last sequence of node %d: %w", source, err)
	}
	return uint64(last), nil
}

// Sequence returns a clock for node that resumes above its recorded mark.
// It has the shape ring.WithSequences expects.
func (s *Store) Sequence(node uint16) (*ring.Clock, error) {
	last, err := s.LastSequence(context.Background(), node)
	if err != nil {
		return nil, err
	}
	return ring.NewClockAt(last), nil
}

// ConsumedCount returns how many messages node has consumed.
func (s *Store) ConsumedCount(ctx context.Context, node uint16) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM consumed_messages WHERE node = ?", node,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count consumed at node %d: %w", node, err)
	}
	return n, nil
}

// Ledger adapts the store to ring.Ledger for one node.
func (s *Store) Ledger(node uint16) ring.Ledger {
	return nodeLedger{store: s, node: node}
}

type nodeLedger struct {
	store *Store
	node  uint16
}

func (l nodeLedger) Claim(ctx context.Context, id uint64) (bool, error) {
	return l.store.ClaimMessage(ctx, l.node, id)
}

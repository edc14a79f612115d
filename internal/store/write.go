package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/nbd-wtf/go-nostr"

	"github.com/roach88/threadline/internal/ancestry"
)

// WriteEvent stores evt. Uses ON CONFLICT(id) DO NOTHING for idempotency -
// writing the same event twice is silently ignored.
func (s *Store) WriteEvent(ctx context.Context, evt *nostr.Event) error {
	return s.WriteEvents(ctx, []*nostr.Event{evt})
}

// WriteEvents stores evts in one transaction. Nil events and events without
// an id are skipped.
func (s *Store) WriteEvents(ctx context.Context, evts []*nostr.Event) error {
	if len(evts) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("write events: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	storedAt := s.now().Unix()
	for _, evt := range evts {
		if evt == nil || evt.ID == "" {
			continue
		}
		if err := insertEvent(ctx, tx, evt, storedAt); err != nil {
			return fmt.Errorf("write event %s: %w", evt.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("write events: commit: %w", err)
	}
	return nil
}

func insertEvent(ctx context.Context, tx *sql.Tx, evt *nostr.Event, storedAt int64) error {
	raw, err := evt.MarshalJSON()
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	var address sql.NullString
	if addr := ancestry.Address(evt); addr != "" {
		address = sql.NullString{String: addr, Valid: true}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO events
		(id, pubkey, kind, created_at, address, raw, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		evt.ID,
		evt.PubKey,
		evt.Kind,
		int64(evt.CreatedAt),
		address,
		string(raw),
		storedAt,
	)
	return err
}

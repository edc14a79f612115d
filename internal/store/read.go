package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"

	"github.com/roach88/threadline/internal/ancestry"
)

// ReadEvents returns the stored events with the given ids.
// Results are ordered by created_at ASC, id ASC COLLATE BINARY. Unknown ids
// are skipped. Returns an empty slice (not nil) when nothing matches.
func (s *Store) ReadEvents(ctx context.Context, ids []string) ([]*nostr.Event, error) {
	out := []*nostr.Event{}
	if len(ids) == 0 {
		return out, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT raw FROM events
		WHERE id IN (`+placeholders+`)
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// ReadByAddress returns the newest stored event for a "kind:pubkey:d"
// address, or nil when none is stored.
func (s *Store) ReadByAddress(ctx context.Context, address string) (*nostr.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT raw FROM events
		WHERE address = ?
		ORDER BY created_at DESC, id COLLATE BINARY ASC
		LIMIT 1
	`, address)

	evt, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return evt, nil
}

// Query returns stored events answering filters. Only identifier filters, as
// built by fetch.IDFilters, are served: an "ids" filter or a single
// kind/author/d-tag address filter. Anything else is ignored.
func (s *Store) Query(ctx context.Context, filters nostr.Filters) ([]*nostr.Event, error) {
	var out []*nostr.Event
	for _, f := range filters {
		if len(f.IDs) > 0 {
			evts, err := s.ReadEvents(ctx, f.IDs)
			if err != nil {
				return nil, err
			}
			for _, evt := range evts {
				if f.Matches(evt) {
					out = append(out, evt)
				}
			}
			continue
		}

		address, ok := filterAddress(f)
		if !ok {
			continue
		}
		evt, err := s.ReadByAddress(ctx, address)
		if err != nil {
			return nil, err
		}
		if evt != nil && f.Matches(evt) {
			out = append(out, evt)
		}
	}
	return out, nil
}

func filterAddress(f nostr.Filter) (string, bool) {
	if len(f.Kinds) != 1 || len(f.Authors) != 1 || len(f.Tags["d"]) != 1 {
		return "", false
	}
	if !ancestry.IsAddressable(f.Kinds[0]) {
		return "", false
	}
	return fmt.Sprintf("%d:%s:%s", f.Kinds[0], f.Authors[0], f.Tags["d"][0]), true
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(row scanner) (*nostr.Event, error) {
	var raw string
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan event: %w", err)
	}
	var evt nostr.Event
	if err := evt.UnmarshalJSON([]byte(raw)); err != nil {
		return nil, fmt.Errorf("unmarshal event: %w", err)
	}
	return &evt, nil
}

package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knowton/bondledger/internal/domain"
)

// EventStore implements the append-only domain.EventStore using PostgreSQL.
// Payloads are stored as JSONB; reads return them as raw JSON since the
// concrete payload type is only known at emission time.
type EventStore struct {
	pool *pgxpool.Pool
}

// NewEventStore creates a new EventStore.
func NewEventStore(pool *pgxpool.Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append inserts the events in order within one transaction.
func (s *EventStore) Append(ctx context.Context, events []domain.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin append events: %w", err)
	}
	defer tx.Rollback(ctx)

	const query = `
		INSERT INTO ledger_events (id, kind, bond_id, at, payload)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING`
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("postgres: marshal event %s: %w", ev.ID, err)
		}
		if _, err := tx.Exec(ctx, query, ev.ID, string(ev.Kind), int64(ev.BondID), ev.At, payload); err != nil {
			return fmt.Errorf("postgres: append event %s: %w", ev.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit append events: %w", err)
	}
	return nil
}

const eventColumns = `id, kind, bond_id, at, payload`

// ListByBond returns the events of one bond in append order.
func (s *EventStore) ListByBond(ctx context.Context, bondID uint64, opts domain.ListOpts) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events WHERE bond_id = $1`
	args := []any{int64(bondID)}
	clause, args := timeRange(opts, "at", 2, args)
	query += clause + ` ORDER BY seq` + limitOffset(opts)
	return s.queryEvents(ctx, query, args...)
}

// ListRecent returns up to limit events, newest first.
func (s *EventStore) ListRecent(ctx context.Context, limit int) ([]domain.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM ledger_events ORDER BY seq DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryEvents(ctx, query)
}

func (s *EventStore) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	defer rows.Close()

	var list []domain.Event
	for rows.Next() {
		var (
			ev      domain.Event
			kind    string
			bondID  int64
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &kind, &bondID, &ev.At, &payload); err != nil {
			return nil, fmt.Errorf("postgres: scan event: %w", err)
		}
		ev.Kind = domain.EventKind(kind)
		ev.BondID = uint64(bondID)
		ev.Payload = json.RawMessage(payload)
		list = append(list, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query events: %w", err)
	}
	return list, nil
}

// Compile-time interface check.
var _ domain.EventStore = (*EventStore)(nil)

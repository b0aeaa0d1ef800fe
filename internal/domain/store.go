package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// BondStore persists bond snapshots (bond row plus its three tranches).
type BondStore interface {
	Upsert(ctx context.Context, bond *Bond) error
	GetByID(ctx context.Context, id uint64) (*Bond, error)
	List(ctx context.Context, opts ListOpts) ([]*Bond, error)
	ListByStatus(ctx context.Context, status BondStatus, opts ListOpts) ([]*Bond, error)
	MaxID(ctx context.Context) (uint64, error)
}

// InvestmentStore persists investor positions.
type InvestmentStore interface {
	Upsert(ctx context.Context, inv *Investment) error
	Get(ctx context.Context, key InvestmentKey) (*Investment, error)
	ListByBond(ctx context.Context, bondID uint64) ([]*Investment, error)
	ListByInvestor(ctx context.Context, investor string, opts ListOpts) ([]*Investment, error)
}

// EventStore persists the append-only ledger event log.
type EventStore interface {
	Append(ctx context.Context, events []Event) error
	ListByBond(ctx context.Context, bondID uint64, opts ListOpts) ([]Event, error)
	ListRecent(ctx context.Context, limit int) ([]Event, error)
}

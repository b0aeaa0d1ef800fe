package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knowton/bondledger/internal/domain"
)

// InvestmentStore implements domain.InvestmentStore using PostgreSQL.
type InvestmentStore struct {
	pool *pgxpool.Pool
}

// NewInvestmentStore creates a new InvestmentStore.
func NewInvestmentStore(pool *pgxpool.Pool) *InvestmentStore {
	return &InvestmentStore{pool: pool}
}

// Upsert writes the position snapshot.
func (s *InvestmentStore) Upsert(ctx context.Context, inv *domain.Investment) error {
	const query = `
		INSERT INTO investments (bond_id, tranche_index, investor, amount, redeemed, invested_at, updated_at, redeemed_at)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8)
		ON CONFLICT (bond_id, tranche_index, investor) DO UPDATE SET
			amount = EXCLUDED.amount,
			redeemed = EXCLUDED.redeemed,
			updated_at = EXCLUDED.updated_at,
			redeemed_at = EXCLUDED.redeemed_at`
	_, err := s.pool.Exec(ctx, query,
		int64(inv.BondID), int16(inv.Tranche), inv.Investor, inv.Amount.String(),
		inv.Redeemed, inv.InvestedAt, inv.UpdatedAt, inv.RedeemedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert investment %d/%s/%s: %w", inv.BondID, inv.Tranche, inv.Investor, err)
	}
	return nil
}

const investmentColumns = `
	bond_id, tranche_index, investor, amount::text, redeemed, invested_at, updated_at, redeemed_at`

// Get returns a position, or domain.ErrNotFound.
func (s *InvestmentStore) Get(ctx context.Context, key domain.InvestmentKey) (*domain.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE bond_id = $1 AND tranche_index = $2 AND investor = $3`
	inv, err := scanInvestment(s.pool.QueryRow(ctx, query, int64(key.BondID), int16(key.Tranche), key.Investor))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: no investment by %s in %s tranche of bond %d",
				domain.ErrNotFound, key.Investor, key.Tranche, key.BondID)
		}
		return nil, fmt.Errorf("postgres: get investment %d/%s/%s: %w", key.BondID, key.Tranche, key.Investor, err)
	}
	return inv, nil
}

// ListByBond returns every position in a bond, ordered by tranche then
// investor.
func (s *InvestmentStore) ListByBond(ctx context.Context, bondID uint64) ([]*domain.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE bond_id = $1 ORDER BY tranche_index, investor`
	return s.queryInvestments(ctx, query, int64(bondID))
}

// ListByInvestor returns every position held by one investor, ordered by
// bond then tranche.
func (s *InvestmentStore) ListByInvestor(ctx context.Context, investor string, opts domain.ListOpts) ([]*domain.Investment, error) {
	query := `SELECT ` + investmentColumns + ` FROM investments WHERE investor = $1 ORDER BY bond_id, tranche_index` + limitOffset(opts)
	return s.queryInvestments(ctx, query, investor)
}

func (s *InvestmentStore) queryInvestments(ctx context.Context, query string, args ...any) ([]*domain.Investment, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query investments: %w", err)
	}
	defer rows.Close()

	var list []*domain.Investment
	for rows.Next() {
		inv, err := scanInvestment(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan investment: %w", err)
		}
		list = append(list, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query investments: %w", err)
	}
	return list, nil
}

func scanInvestment(row pgx.Row) (*domain.Investment, error) {
	var (
		inv     domain.Investment
		bondID  int64
		tranche int16
		amount  string
	)
	err := row.Scan(&bondID, &tranche, &inv.Investor, &amount, &inv.Redeemed,
		&inv.InvestedAt, &inv.UpdatedAt, &inv.RedeemedAt)
	if err != nil {
		return nil, err
	}
	inv.BondID = uint64(bondID)
	inv.Tranche = domain.TrancheIndex(tranche)
	if inv.Amount, err = parseNumeric(amount); err != nil {
		return nil, err
	}
	return &inv, nil
}

// Compile-time interface check.
var _ domain.InvestmentStore = (*InvestmentStore)(nil)

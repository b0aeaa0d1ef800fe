package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/knowton/bondledger/internal/domain"
)

// BondStore implements domain.BondStore using PostgreSQL. A bond snapshot
// spans one bonds row plus three tranches rows, written in one transaction.
type BondStore struct {
	pool *pgxpool.Pool
}

// NewBondStore creates a new BondStore.
func NewBondStore(pool *pgxpool.Pool) *BondStore {
	return &BondStore{pool: pool}
}

// Upsert writes the full bond snapshot.
func (s *BondStore) Upsert(ctx context.Context, bond *domain.Bond) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin upsert bond %d: %w", bond.ID, err)
	}
	defer tx.Rollback(ctx)

	const bondQuery = `
		INSERT INTO bonds (id, issuer, collateral_contract, collateral_token_id, total_value, maturity_at, status, carried_surplus, issued_at, settled_at)
		VALUES ($1, $2, $3, $4::numeric, $5::numeric, $6, $7, $8::numeric, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			carried_surplus = EXCLUDED.carried_surplus,
			settled_at = EXCLUDED.settled_at`
	_, err = tx.Exec(ctx, bondQuery,
		int64(bond.ID), bond.Issuer, bond.Collateral.Contract, domain.AmountString(bond.Collateral.TokenID),
		bond.TotalValue.String(), bond.MaturityAt, string(bond.Status),
		domain.AmountString(bond.CarriedSurplus), bond.IssuedAt, bond.SettledAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert bond %d: %w", bond.ID, err)
	}

	const trancheQuery = `
		INSERT INTO tranches (bond_id, tranche_index, allocation, apy_bps, total_invested, total_redeemed, accumulated_yield)
		VALUES ($1, $2, $3::numeric, $4, $5::numeric, $6::numeric, $7::numeric)
		ON CONFLICT (bond_id, tranche_index) DO UPDATE SET
			total_invested = EXCLUDED.total_invested,
			total_redeemed = EXCLUDED.total_redeemed,
			accumulated_yield = EXCLUDED.accumulated_yield`
	for _, t := range bond.Tranches {
		_, err = tx.Exec(ctx, trancheQuery,
			int64(bond.ID), int16(t.Index), t.Allocation.String(), int64(t.APYBps),
			t.TotalInvested.String(), t.TotalRedeemed.String(), t.AccumulatedYield.String(),
		)
		if err != nil {
			return fmt.Errorf("postgres: upsert tranche %d/%d: %w", bond.ID, t.Index, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit upsert bond %d: %w", bond.ID, err)
	}
	return nil
}

const bondColumns = `
	id, issuer, collateral_contract, collateral_token_id::text, total_value::text,
	maturity_at, status, carried_surplus::text, issued_at, settled_at`

// GetByID returns a bond with its tranches, or domain.ErrNotFound.
func (s *BondStore) GetByID(ctx context.Context, id uint64) (*domain.Bond, error) {
	query := `SELECT ` + bondColumns + ` FROM bonds WHERE id = $1`
	bond, err := s.scanBond(s.pool.QueryRow(ctx, query, int64(id)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: bond %d", domain.ErrNotFound, id)
		}
		return nil, fmt.Errorf("postgres: get bond %d: %w", id, err)
	}
	if err := s.loadTranches(ctx, bond); err != nil {
		return nil, err
	}
	return bond, nil
}

// List returns bonds ordered by id.
func (s *BondStore) List(ctx context.Context, opts domain.ListOpts) ([]*domain.Bond, error) {
	query := `SELECT ` + bondColumns + ` FROM bonds ORDER BY id` + limitOffset(opts)
	return s.queryBonds(ctx, query)
}

// ListByStatus returns bonds in the given state ordered by id.
func (s *BondStore) ListByStatus(ctx context.Context, status domain.BondStatus, opts domain.ListOpts) ([]*domain.Bond, error) {
	query := `SELECT ` + bondColumns + ` FROM bonds WHERE status = $1 ORDER BY id` + limitOffset(opts)
	return s.queryBonds(ctx, query, string(status))
}

// MaxID returns the highest stored bond id, or zero when the table is empty.
func (s *BondStore) MaxID(ctx context.Context) (uint64, error) {
	var max int64
	err := s.pool.QueryRow(ctx, `SELECT COALESCE(MAX(id), 0) FROM bonds`).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("postgres: max bond id: %w", err)
	}
	return uint64(max), nil
}

func (s *BondStore) queryBonds(ctx context.Context, query string, args ...any) ([]*domain.Bond, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: query bonds: %w", err)
	}
	defer rows.Close()

	var list []*domain.Bond
	for rows.Next() {
		bond, err := s.scanBond(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan bond: %w", err)
		}
		list = append(list, bond)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: query bonds: %w", err)
	}
	for _, bond := range list {
		if err := s.loadTranches(ctx, bond); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (s *BondStore) scanBond(row pgx.Row) (*domain.Bond, error) {
	var (
		bond                                       domain.Bond
		id                                         int64
		tokenID, totalValue, carriedSurplus, state string
	)
	err := row.Scan(
		&id, &bond.Issuer, &bond.Collateral.Contract, &tokenID, &totalValue,
		&bond.MaturityAt, &state, &carriedSurplus, &bond.IssuedAt, &bond.SettledAt,
	)
	if err != nil {
		return nil, err
	}
	bond.ID = uint64(id)
	bond.Status = domain.BondStatus(state)
	if bond.Collateral.TokenID, err = parseNumeric(tokenID); err != nil {
		return nil, err
	}
	if bond.TotalValue, err = parseNumeric(totalValue); err != nil {
		return nil, err
	}
	if bond.CarriedSurplus, err = parseNumeric(carriedSurplus); err != nil {
		return nil, err
	}
	return &bond, nil
}

func (s *BondStore) loadTranches(ctx context.Context, bond *domain.Bond) error {
	const query = `
		SELECT tranche_index, allocation::text, apy_bps, total_invested::text, total_redeemed::text, accumulated_yield::text
		FROM tranches WHERE bond_id = $1 ORDER BY tranche_index`
	rows, err := s.pool.Query(ctx, query, int64(bond.ID))
	if err != nil {
		return fmt.Errorf("postgres: query tranches of bond %d: %w", bond.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			idx                                          int16
			apyBps                                       int64
			allocation, invested, redeemed, accumulated string
		)
		if err := rows.Scan(&idx, &allocation, &apyBps, &invested, &redeemed, &accumulated); err != nil {
			return fmt.Errorf("postgres: scan tranche of bond %d: %w", bond.ID, err)
		}
		if !domain.TrancheIndex(idx).Valid() {
			return fmt.Errorf("postgres: bond %d has invalid tranche index %d", bond.ID, idx)
		}
		t := &bond.Tranches[idx]
		t.Index = domain.TrancheIndex(idx)
		t.APYBps = uint64(apyBps)
		if t.Allocation, err = parseNumeric(allocation); err != nil {
			return err
		}
		if t.TotalInvested, err = parseNumeric(invested); err != nil {
			return err
		}
		if t.TotalRedeemed, err = parseNumeric(redeemed); err != nil {
			return err
		}
		if t.AccumulatedYield, err = parseNumeric(accumulated); err != nil {
			return err
		}
	}
	return rows.Err()
}

// parseNumeric converts a NUMERIC column rendered as text into a big.Int.
func parseNumeric(s string) (*big.Int, error) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed numeric %q", s)
	}
	return n, nil
}

func limitOffset(opts domain.ListOpts) string {
	clause := ""
	if opts.Limit > 0 {
		clause += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		clause += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}
	return clause
}

// timeRange appends optional since/until predicates; argIdx is the next
// positional placeholder number.
func timeRange(opts domain.ListOpts, column string, argIdx int, args []any) (string, []any) {
	clause := ""
	if opts.Since != nil {
		clause += fmt.Sprintf(" AND %s >= $%d", column, argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		clause += fmt.Sprintf(" AND %s <= $%d", column, argIdx)
		args = append(args, *opts.Until)
	}
	return clause, args
}

// Compile-time interface check.
var _ domain.BondStore = (*BondStore)(nil)

package domain

import "context"

// Role is a capability label granted by the external access-control
// collaborator. The ledger only ever asks yes/no questions about roles.
type Role string

const (
	// RoleIssuer may issue bonds and trigger maturity/default transitions.
	RoleIssuer Role = "issuer"

	// RoleRevenue may report collateral revenue for distribution.
	RoleRevenue Role = "revenue"
)

// AccessController is the injected capability object the ledger queries
// before any mutation. Implementations may be static config, Redis-backed,
// or fakes in tests; the ledger never owns role state itself.
type AccessController interface {
	IsAuthorized(ctx context.Context, caller string, role Role) (bool, error)
	IsPaused(ctx context.Context) (bool, error)
}

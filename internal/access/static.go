// Package access provides the access controller the ledger queries before
// every mutation: a static role allowlist from configuration, combined with
// an externally administered pause switch.
package access

import (
	"context"
	"strings"

	"github.com/knowton/bondledger/internal/domain"
)

// Static is a domain.AccessController with a fixed caller-to-role allowlist.
// Caller identities are matched case-insensitively, since they are typically
// hex addresses with inconsistent checksum casing.
type Static struct {
	grants map[domain.Role]map[string]bool
	pause  domain.PauseSwitch
}

// NewStatic builds a controller granting the issuer role to the given
// issuers and the revenue role to the given collectors. Issuers may also
// report revenue. A nil pause switch means the ledger is never paused.
func NewStatic(issuers, collectors []string, pause domain.PauseSwitch) *Static {
	grants := map[domain.Role]map[string]bool{
		domain.RoleIssuer:  make(map[string]bool, len(issuers)),
		domain.RoleRevenue: make(map[string]bool, len(issuers)+len(collectors)),
	}
	for _, caller := range issuers {
		key := strings.ToLower(caller)
		grants[domain.RoleIssuer][key] = true
		grants[domain.RoleRevenue][key] = true
	}
	for _, caller := range collectors {
		grants[domain.RoleRevenue][strings.ToLower(caller)] = true
	}
	return &Static{grants: grants, pause: pause}
}

// IsAuthorized reports whether the caller holds the role.
func (s *Static) IsAuthorized(_ context.Context, caller string, role domain.Role) (bool, error) {
	return s.grants[role][strings.ToLower(caller)], nil
}

// IsPaused consults the pause switch.
func (s *Static) IsPaused(ctx context.Context) (bool, error) {
	if s.pause == nil {
		return false, nil
	}
	return s.pause.IsPaused(ctx)
}

// Compile-time interface check.
var _ domain.AccessController = (*Static)(nil)

package domain

import "errors"

// Ledger error taxonomy. Every mutating operation either fully commits or
// returns one of these with state untouched; callers match with errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrPaused            = errors.New("ledger paused")
	ErrExceedsAllocation = errors.New("exceeds tranche allocation")
	ErrInvalidState      = errors.New("invalid bond state")
	ErrNotYetMatured     = errors.New("bond not yet matured")
	ErrAlreadyRedeemed   = errors.New("investment already redeemed")
	ErrNoInvestment      = errors.New("no investment")
	ErrInvalidInterval   = errors.New("invalid yield interval")
	ErrLockHeld          = errors.New("lock already held")
)

package domain

import (
	"encoding/json"
	"math/big"
	"time"

	"github.com/google/uuid"
)

// EventKind names a ledger event. Kinds double as the bus channel the event
// is published on.
type EventKind string

const (
	EventBondIssued       EventKind = "bond_issued"
	EventInvestment       EventKind = "investment"
	EventYieldDistributed EventKind = "yield_distributed"
	EventRedeemed         EventKind = "redeemed"
	EventBondMatured      EventKind = "bond_matured"
	EventBondDefaulted    EventKind = "bond_defaulted"
	EventMaturityDue      EventKind = "bond_maturity_due"
)

// Event is the envelope for every state change the ledger emits. Events are
// the only outbound notification channel; mutating operations return the
// events they produced and the caller forwards them.
type Event struct {
	ID      string    `json:"id"`
	Kind    EventKind `json:"kind"`
	BondID  uint64    `json:"bond_id"`
	At      time.Time `json:"at"`
	Payload any       `json:"payload"`
}

// Marshal renders the event as its wire (and storage) JSON form.
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// BondIssuedPayload accompanies EventBondIssued.
type BondIssuedPayload struct {
	Issuer             string    `json:"issuer"`
	CollateralContract string    `json:"collateral_contract"`
	CollateralTokenID  string    `json:"collateral_token_id"`
	TotalValue         string    `json:"total_value"`
	MaturityAt         time.Time `json:"maturity_at"`
	Allocations        [3]string `json:"allocations"`
	APYBps             [3]uint64 `json:"apy_bps"`
}

// InvestmentPayload accompanies EventInvestment.
type InvestmentPayload struct {
	Tranche  TrancheIndex `json:"tranche"`
	Investor string       `json:"investor"`
	Amount   string       `json:"amount"`
	Total    string       `json:"total"`
}

// YieldDistributedPayload accompanies EventYieldDistributed. Amounts holds
// what each tranche absorbed in this distribution, in priority order.
type YieldDistributedPayload struct {
	Revenue string    `json:"revenue"`
	Amounts [3]string `json:"amounts"`
	Surplus string    `json:"surplus"`
}

// RedeemedPayload accompanies EventRedeemed.
type RedeemedPayload struct {
	Tranche   TrancheIndex `json:"tranche"`
	Investor  string       `json:"investor"`
	Principal string       `json:"principal"`
	Yield     string       `json:"yield"`
	Payout    string       `json:"payout"`
}

// StatusPayload accompanies EventBondMatured, EventBondDefaulted and
// EventMaturityDue.
type StatusPayload struct {
	Status     BondStatus `json:"status"`
	MaturityAt time.Time  `json:"maturity_at"`
}

// NewEvent wraps a payload in an Event envelope with a fresh id.
func NewEvent(kind EventKind, bondID uint64, at time.Time, payload any) Event {
	return Event{
		ID:      uuid.New().String(),
		Kind:    kind,
		BondID:  bondID,
		At:      at,
		Payload: payload,
	}
}

// AmountString renders a big.Int amount for event payloads; nil becomes "0".
func AmountString(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

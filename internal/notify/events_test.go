package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/knowton/bondledger/internal/domain"
)

func TestFormatEvent(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	maturity := time.Date(2027, 6, 1, 0, 0, 0, 0, time.UTC)

	title, msg := FormatEvent(domain.NewEvent(domain.EventBondIssued, 7, at, domain.BondIssuedPayload{
		Issuer: "0xIssuer", TotalValue: "1000", MaturityAt: maturity,
	}))
	assert.Equal(t, "Bond #7 issued", title)
	assert.Contains(t, msg, "0xIssuer")
	assert.Contains(t, msg, "2027-06-01")

	title, msg = FormatEvent(domain.NewEvent(domain.EventRedeemed, 7, at, domain.RedeemedPayload{
		Tranche: domain.TrancheSenior, Investor: "alice", Principal: "10", Yield: "1", Payout: "11",
	}))
	assert.Equal(t, "Redemption from bond #7", title)
	assert.Contains(t, msg, "senior")
	assert.Contains(t, msg, "11")

	title, _ = FormatEvent(domain.NewEvent(domain.EventBondDefaulted, 7, at, domain.StatusPayload{
		Status: domain.BondDefaulted, MaturityAt: maturity,
	}))
	assert.Contains(t, title, "DEFAULTED")

	// Unknown payloads fall back to a generic rendering.
	title, msg = FormatEvent(domain.NewEvent(domain.EventKind("something_new"), 9, at, nil))
	assert.Contains(t, title, "something_new")
	assert.Contains(t, msg, "bond #9")
}

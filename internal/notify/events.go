package notify

import (
	"fmt"

	"github.com/knowton/bondledger/internal/domain"
)

// FormatEvent renders a ledger event as a notification title and body.
// Unknown payload shapes fall back to a generic line so forwarding never
// fails on a new event kind.
func FormatEvent(ev domain.Event) (title, message string) {
	switch p := ev.Payload.(type) {
	case domain.BondIssuedPayload:
		return fmt.Sprintf("Bond #%d issued", ev.BondID),
			fmt.Sprintf("issuer %s, total value %s, matures %s",
				p.Issuer, p.TotalValue, p.MaturityAt.Format("2006-01-02"))
	case domain.InvestmentPayload:
		return fmt.Sprintf("Investment in bond #%d", ev.BondID),
			fmt.Sprintf("%s invested %s in the %s tranche (position now %s)",
				p.Investor, p.Amount, p.Tranche, p.Total)
	case domain.YieldDistributedPayload:
		return fmt.Sprintf("Revenue distributed to bond #%d", ev.BondID),
			fmt.Sprintf("revenue %s, senior %s, mezzanine %s, junior %s, surplus %s",
				p.Revenue, p.Amounts[0], p.Amounts[1], p.Amounts[2], p.Surplus)
	case domain.RedeemedPayload:
		return fmt.Sprintf("Redemption from bond #%d", ev.BondID),
			fmt.Sprintf("%s redeemed the %s tranche for %s (principal %s, yield %s)",
				p.Investor, p.Tranche, p.Payout, p.Principal, p.Yield)
	case domain.StatusPayload:
		switch ev.Kind {
		case domain.EventBondMatured:
			return fmt.Sprintf("Bond #%d matured", ev.BondID),
				fmt.Sprintf("maturity date %s, redemption open", p.MaturityAt.Format("2006-01-02"))
		case domain.EventBondDefaulted:
			return fmt.Sprintf("Bond #%d DEFAULTED", ev.BondID),
				"yield accrual stopped, reduced-recovery redemption open"
		case domain.EventMaturityDue:
			return fmt.Sprintf("Bond #%d due for maturity", ev.BondID),
				fmt.Sprintf("maturity date %s reached, awaiting issuer transition", p.MaturityAt.Format("2006-01-02"))
		}
	}
	return fmt.Sprintf("Ledger event %s", ev.Kind),
		fmt.Sprintf("bond #%d at %s", ev.BondID, ev.At.Format("2006-01-02 15:04:05"))
}

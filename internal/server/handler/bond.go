package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"time"

	"github.com/knowton/bondledger/internal/domain"
	"github.com/knowton/bondledger/internal/ledger"
	"github.com/knowton/bondledger/internal/server/middleware"
)

// LedgerService defines the methods the bond handler requires from the
// service layer.
type LedgerService interface {
	IssueBond(ctx context.Context, issuer string, p ledger.IssueParams) (*domain.Bond, error)
	Invest(ctx context.Context, investor string, bondID uint64, tranche domain.TrancheIndex, amount *big.Int) (*domain.Investment, error)
	DistributeRevenue(ctx context.Context, caller string, bondID uint64, amount *big.Int) (*domain.Bond, error)
	MarkMatured(ctx context.Context, caller string, bondID uint64) (*domain.Bond, error)
	MarkDefaulted(ctx context.Context, caller string, bondID uint64) (*domain.Bond, error)
	Redeem(ctx context.Context, investor string, bondID uint64, tranche domain.TrancheIndex) (*domain.Investment, error)

	GetBond(ctx context.Context, bondID uint64) (*domain.Bond, error)
	GetTranche(ctx context.Context, bondID uint64, tranche domain.TrancheIndex) (domain.Tranche, error)
	ListBonds(ctx context.Context, status domain.BondStatus) []*domain.Bond
	ListInvestmentsByBond(ctx context.Context, bondID uint64) []*domain.Investment
	ListInvestmentsByInvestor(ctx context.Context, investor string) []*domain.Investment
	CurrentYield(ctx context.Context, bondID uint64, tranche domain.TrancheIndex, investor string) (expected, claimable *big.Int, err error)
	ListEvents(ctx context.Context, bondID uint64, opts domain.ListOpts) ([]domain.Event, error)
}

// BondHandler serves the bond lifecycle HTTP endpoints. The acting identity
// always comes from the authenticated caller, never from the request body.
type BondHandler struct {
	svc    LedgerService
	logger *slog.Logger
}

// NewBondHandler creates a BondHandler with the given service and logger.
func NewBondHandler(svc LedgerService, logger *slog.Logger) *BondHandler {
	return &BondHandler{
		svc:    svc,
		logger: logger,
	}
}

// bondResponse is the wire shape of a bond. All amounts are decimal strings.
type bondResponse struct {
	ID             uint64            `json:"id"`
	Issuer         string            `json:"issuer"`
	Collateral     string            `json:"collateral_contract"`
	CollateralID   string            `json:"collateral_token_id"`
	TotalValue     string            `json:"total_value"`
	Status         string            `json:"status"`
	CarriedSurplus string            `json:"carried_surplus"`
	IssuedAt       time.Time         `json:"issued_at"`
	MaturityAt     time.Time         `json:"maturity_at"`
	SettledAt      *time.Time        `json:"settled_at,omitempty"`
	Tranches       []trancheResponse `json:"tranches"`
}

type trancheResponse struct {
	Index            uint8  `json:"index"`
	Name             string `json:"name"`
	APYBps           uint64 `json:"apy_bps"`
	Allocation       string `json:"allocation"`
	TotalInvested    string `json:"total_invested"`
	TotalRedeemed    string `json:"total_redeemed"`
	AccumulatedYield string `json:"accumulated_yield"`
}

type investmentResponse struct {
	BondID     uint64     `json:"bond_id"`
	Tranche    string     `json:"tranche"`
	Investor   string     `json:"investor"`
	Amount     string     `json:"amount"`
	Redeemed   bool       `json:"redeemed"`
	InvestedAt time.Time  `json:"invested_at"`
	RedeemedAt *time.Time `json:"redeemed_at,omitempty"`
}

func toBondResponse(b *domain.Bond) bondResponse {
	resp := bondResponse{
		ID:             b.ID,
		Issuer:         b.Issuer,
		Collateral:     b.Collateral.Contract,
		CollateralID:   domain.AmountString(b.Collateral.TokenID),
		TotalValue:     domain.AmountString(b.TotalValue),
		Status:         string(b.Status),
		CarriedSurplus: domain.AmountString(b.CarriedSurplus),
		IssuedAt:       b.IssuedAt,
		MaturityAt:     b.MaturityAt,
		SettledAt:      b.SettledAt,
	}
	for _, t := range b.Tranches {
		resp.Tranches = append(resp.Tranches, toTrancheResponse(t))
	}
	return resp
}

func toTrancheResponse(t domain.Tranche) trancheResponse {
	return trancheResponse{
		Index:            uint8(t.Index),
		Name:             t.Index.String(),
		APYBps:           t.APYBps,
		Allocation:       domain.AmountString(t.Allocation),
		TotalInvested:    domain.AmountString(t.TotalInvested),
		TotalRedeemed:    domain.AmountString(t.TotalRedeemed),
		AccumulatedYield: domain.AmountString(t.AccumulatedYield),
	}
}

func toInvestmentResponse(inv *domain.Investment) investmentResponse {
	return investmentResponse{
		BondID:     inv.BondID,
		Tranche:    inv.Tranche.String(),
		Investor:   inv.Investor,
		Amount:     domain.AmountString(inv.Amount),
		Redeemed:   inv.Redeemed,
		InvestedAt: inv.InvestedAt,
		RedeemedAt: inv.RedeemedAt,
	}
}

// issueBondRequest is the body of POST /api/bonds.
type issueBondRequest struct {
	CollateralContract string    `json:"collateral_contract"`
	CollateralTokenID  string    `json:"collateral_token_id"`
	TotalValue         string    `json:"total_value"`
	MaturityAt         time.Time `json:"maturity_at"`
	APYBps             [3]uint64 `json:"apy_bps"`
}

// IssueBond creates a new bond issued by the authenticated caller.
// POST /api/bonds
func (h *BondHandler) IssueBond(w http.ResponseWriter, r *http.Request) {
	var req issueBondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	totalValue, err := parseAmount(req.TotalValue)
	if err != nil {
		writeError(w, http.StatusBadRequest, "total_value: "+err.Error())
		return
	}
	tokenID := big.NewInt(0)
	if req.CollateralTokenID != "" {
		parsed, ok := new(big.Int).SetString(req.CollateralTokenID, 10)
		if !ok || parsed.Sign() < 0 {
			writeError(w, http.StatusBadRequest, "collateral_token_id: expected non-negative integer string")
			return
		}
		tokenID = parsed
	}

	bond, err := h.svc.IssueBond(r.Context(), middleware.Caller(r.Context()), ledger.IssueParams{
		Collateral: domain.CollateralRef{Contract: req.CollateralContract, TokenID: tokenID},
		TotalValue: totalValue,
		MaturityAt: req.MaturityAt,
		APYBps:     req.APYBps,
	})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: issue bond failed",
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toBondResponse(bond))
}

// amountRequest is the body of invest and revenue calls.
type amountRequest struct {
	Tranche string `json:"tranche,omitempty"`
	Amount  string `json:"amount"`
}

// Invest adds the authenticated caller's funds to one tranche.
// POST /api/bonds/{id}/invest
func (h *BondHandler) Invest(w http.ResponseWriter, r *http.Request) {
	bondID, err := parseBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	tranche, err := parseTranche(req.Tranche)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}

	inv, err := h.svc.Invest(r.Context(), middleware.Caller(r.Context()), bondID, tranche, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvestmentResponse(inv))
}

// DistributeRevenue pushes revenue through the tranche waterfall.
// POST /api/bonds/{id}/revenue
func (h *BondHandler) DistributeRevenue(w http.ResponseWriter, r *http.Request) {
	bondID, err := parseBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req amountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "amount: "+err.Error())
		return
	}

	bond, err := h.svc.DistributeRevenue(r.Context(), middleware.Caller(r.Context()), bondID, amount)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBondResponse(bond))
}

// MarkMatured transitions the bond to matured.
// POST /api/bonds/{id}/mature
func (h *BondHandler) MarkMatured(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.svc.MarkMatured)
}

// MarkDefaulted transitions the bond to defaulted.
// POST /api/bonds/{id}/default
func (h *BondHandler) MarkDefaulted(w http.ResponseWriter, r *http.Request) {
	h.settle(w, r, h.svc.MarkDefaulted)
}

func (h *BondHandler) settle(w http.ResponseWriter, r *http.Request, op func(context.Context, string, uint64) (*domain.Bond, error)) {
	bondID, err := parseBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bond, err := op(r.Context(), middleware.Caller(r.Context()), bondID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBondResponse(bond))
}

// redeemRequest is the body of POST /api/bonds/{id}/redeem.
type redeemRequest struct {
	Tranche string `json:"tranche"`
}

// Redeem pays out the authenticated caller's position exactly once.
// POST /api/bonds/{id}/redeem
func (h *BondHandler) Redeem(w http.ResponseWriter, r *http.Request) {
	bondID, err := parseBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req redeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	tranche, err := parseTranche(req.Tranche)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	inv, err := h.svc.Redeem(r.Context(), middleware.Caller(r.Context()), bondID, tranche)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvestmentResponse(inv))
}

// ListBonds returns all bonds, optionally filtered by status.
// GET /api/bonds?status=active
func (h *BondHandler) ListBonds(w http.ResponseWriter, r *http.Request) {
	status := domain.BondStatus(r.URL.Query().Get("status"))
	switch status {
	case "", domain.BondActive, domain.BondMatured, domain.BondDefaulted:
	default:
		writeError(w, http.StatusBadRequest, "invalid status filter")
		return
	}

	bonds := h.svc.ListBonds(r.Context(), status)
	resp := make([]bondResponse, 0, len(bonds))
	for _, b := range bonds {
		resp = append(resp, toBondResponse(b))
	}
	writeJSON(w, http.StatusOK, map[string]any{"bonds": resp})
}

// GetBond returns one bond.
// GET /api/bonds/{id}
func (h *BondHandler) GetBond(w http.ResponseWriter, r *http.Request) {
	bondID, err := parseBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bond, err := h.svc.GetBond(r.Context(), bondID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toBondResponse(bond))
}

// GetTranche returns one tranche of a bond.
// GET /api/bonds/{id}/tranches/{tranche}
func (h *BondHandler) GetTranche(w http.ResponseWriter, r *http.Request) {
	bondID, err := parseBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	tranche, err := parseTranche(pathParam(r, "tranche"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := h.svc.GetTranche(r.Context(), bondID, tranche)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toTrancheResponse(t))
}

// ListInvestments returns every position in a bond.
// GET /api/bonds/{id}/investments
func (h *BondHandler) ListInvestments(w http.ResponseWriter, r *http.Request) {
	bondID, err := parseBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	invs := h.svc.ListInvestmentsByBond(r.Context(), bondID)
	resp := make([]investmentResponse, 0, len(invs))
	for _, inv := range invs {
		resp = append(resp, toInvestmentResponse(inv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"investments": resp})
}

// ListInvestorPositions returns every position held by one investor.
// GET /api/investors/{address}/investments
func (h *BondHandler) ListInvestorPositions(w http.ResponseWriter, r *http.Request) {
	investor := pathParam(r, "address")
	if investor == "" {
		writeError(w, http.StatusBadRequest, "missing investor address")
		return
	}
	invs := h.svc.ListInvestmentsByInvestor(r.Context(), investor)
	resp := make([]investmentResponse, 0, len(invs))
	for _, inv := range invs {
		resp = append(resp, toInvestmentResponse(inv))
	}
	writeJSON(w, http.StatusOK, map[string]any{"investments": resp})
}

// CurrentYield reports accrued and claimable yield for a position.
// GET /api/bonds/{id}/yield?tranche=senior&investor=0x...
func (h *BondHandler) CurrentYield(w http.ResponseWriter, r *http.Request) {
	bondID, err := parseBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	q := r.URL.Query()
	tranche, err := parseTranche(q.Get("tranche"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	investor := q.Get("investor")
	if investor == "" {
		investor = middleware.Caller(r.Context())
	}
	if investor == "" {
		writeError(w, http.StatusBadRequest, "missing investor")
		return
	}

	expected, claimable, err := h.svc.CurrentYield(r.Context(), bondID, tranche, investor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"bond_id":   pathParam(r, "id"),
		"tranche":   tranche.String(),
		"investor":  investor,
		"expected":  expected.String(),
		"claimable": claimable.String(),
	})
}

// ListEvents returns the persisted event history of a bond.
// GET /api/bonds/{id}/events
func (h *BondHandler) ListEvents(w http.ResponseWriter, r *http.Request) {
	bondID, err := parseBondID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.svc.ListEvents(r.Context(), bondID, parseListOpts(r))
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list events failed",
			slog.Uint64("bond_id", bondID),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err)
		return
	}
	if events == nil {
		events = []domain.Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

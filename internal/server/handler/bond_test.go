package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/knowton/bondledger/internal/access"
	"github.com/knowton/bondledger/internal/ledger"
	"github.com/knowton/bondledger/internal/server/middleware"
	"github.com/knowton/bondledger/internal/service"
	"github.com/knowton/bondledger/internal/store/memory"
)

// newTestServer wires a real service over memory stores behind the routes
// under test, with auth resolving two fixed API keys.
func newTestServer(t *testing.T) (*httptest.Server, *time.Time) {
	t.Helper()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := &t0

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ldg := ledger.New(
		access.NewStatic([]string{"0xissuer"}, nil, nil),
		ledger.WithClock(func() time.Time { return *clock }),
	)
	svc := service.NewBondService(
		ldg,
		memory.NewBondStore(),
		memory.NewInvestmentStore(),
		memory.NewEventStore(),
		nil,
		nil,
		logger,
	)

	h := NewBondHandler(svc, logger)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/bonds", h.IssueBond)
	mux.HandleFunc("POST /api/bonds/{id}/invest", h.Invest)
	mux.HandleFunc("POST /api/bonds/{id}/revenue", h.DistributeRevenue)
	mux.HandleFunc("POST /api/bonds/{id}/mature", h.MarkMatured)
	mux.HandleFunc("POST /api/bonds/{id}/redeem", h.Redeem)
	mux.HandleFunc("GET /api/bonds", h.ListBonds)
	mux.HandleFunc("GET /api/bonds/{id}", h.GetBond)
	mux.HandleFunc("GET /api/bonds/{id}/tranches/{tranche}", h.GetTranche)
	mux.HandleFunc("GET /api/bonds/{id}/events", h.ListEvents)
	mux.HandleFunc("GET /api/bonds/{id}/yield", h.CurrentYield)

	keys := map[string]string{
		"issuer-key": "0xissuer",
		"alice-key":  "0xalice",
	}
	srv := httptest.NewServer(middleware.Auth(keys)(mux))
	t.Cleanup(srv.Close)
	return srv, clock
}

func doJSON(t *testing.T, srv *httptest.Server, method, path, apiKey, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, srv.URL+path, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(data) > 0 {
		require.NoError(t, json.Unmarshal(data, &decoded), "body: %s", data)
	}
	return resp, decoded
}

func issueBody(maturity time.Time) string {
	return fmt.Sprintf(`{
		"collateral_contract": "0xCollateral",
		"collateral_token_id": "42",
		"total_value": "1000000",
		"maturity_at": %q,
		"apy_bps": [500, 800, 1200]
	}`, maturity.Format(time.RFC3339))
}

func TestIssueBondEndpoint(t *testing.T) {
	srv, clock := newTestServer(t)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/bonds", "issuer-key", issueBody(clock.Add(24*time.Hour)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, float64(1), body["id"])
	assert.Equal(t, "0xissuer", body["issuer"])
	assert.Equal(t, "active", body["status"])

	tranches, ok := body["tranches"].([]any)
	require.True(t, ok)
	require.Len(t, tranches, 3)
	senior := tranches[0].(map[string]any)
	assert.Equal(t, "senior", senior["name"])
	assert.Equal(t, "500000", senior["allocation"])
}

func TestIssueBondRequiresAuth(t *testing.T) {
	srv, clock := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/bonds", "", issueBody(clock.Add(24*time.Hour)))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A valid key mapping to a non-issuer caller is rejected by the ledger.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/bonds", "alice-key", issueBody(clock.Add(24*time.Hour)))
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestInvestEndpoint(t *testing.T) {
	srv, clock := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/bonds", "issuer-key", issueBody(clock.Add(24*time.Hour)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, body := doJSON(t, srv, http.MethodPost, "/api/bonds/1/invest", "alice-key",
		`{"tranche": "senior", "amount": "100000"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "0xalice", body["investor"])
	assert.Equal(t, "100000", body["amount"])

	// Over-allocation maps to 409.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/bonds/1/invest", "alice-key",
		`{"tranche": "senior", "amount": "450000"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// Garbage tranche and amount map to 400.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/bonds/1/invest", "alice-key",
		`{"tranche": "equity", "amount": "1"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/bonds/1/invest", "alice-key",
		`{"tranche": "senior", "amount": "-5"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// Unknown bond maps to 404.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/bonds/9/invest", "alice-key",
		`{"tranche": "senior", "amount": "1"}`)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestLifecycleEndpoints(t *testing.T) {
	srv, clock := newTestServer(t)
	maturity := clock.Add(365 * 24 * time.Hour)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/bonds", "issuer-key", issueBody(maturity))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/bonds/1/invest", "alice-key",
		`{"tranche": "senior", "amount": "500000"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Maturity before the date is a conflict.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/bonds/1/mature", "issuer-key", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	*clock = maturity

	resp, body := doJSON(t, srv, http.MethodPost, "/api/bonds/1/revenue", "issuer-key",
		`{"amount": "30000"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tranches := body["tranches"].([]any)
	senior := tranches[0].(map[string]any)
	// Senior need over a year is floor(500000*500/10000) = 25000.
	assert.Equal(t, "25000", senior["accumulated_yield"])
	assert.Equal(t, "5000", body["carried_surplus"])

	resp, body = doJSON(t, srv, http.MethodPost, "/api/bonds/1/mature", "issuer-key", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "matured", body["status"])

	resp, body = doJSON(t, srv, http.MethodPost, "/api/bonds/1/redeem", "alice-key",
		`{"tranche": "senior"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["redeemed"])

	// A second redemption is a conflict.
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/bonds/1/redeem", "alice-key",
		`{"tranche": "senior"}`)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doJSON(t, srv, http.MethodGet, "/api/bonds/1/events", "alice-key", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	events := body["events"].([]any)
	assert.Len(t, events, 5)
}

func TestQueryEndpoints(t *testing.T) {
	srv, clock := newTestServer(t)

	resp, _ := doJSON(t, srv, http.MethodPost, "/api/bonds", "issuer-key", issueBody(clock.Add(365*24*time.Hour)))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp, _ = doJSON(t, srv, http.MethodPost, "/api/bonds/1/invest", "alice-key",
		`{"tranche": "junior", "amount": "10000"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := doJSON(t, srv, http.MethodGet, "/api/bonds?status=active", "alice-key", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["bonds"].([]any), 1)

	resp, _ = doJSON(t, srv, http.MethodGet, "/api/bonds?status=bogus", "alice-key", "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, srv, http.MethodGet, "/api/bonds/1/tranches/junior", "alice-key", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "10000", body["total_invested"])

	*clock = clock.Add(365 * 24 * time.Hour)
	resp, body = doJSON(t, srv, http.MethodGet, "/api/bonds/1/yield?tranche=junior", "alice-key", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "1200", body["expected"])
	assert.Equal(t, "0", body["claimable"])

	resp, _ = doJSON(t, srv, http.MethodGet, "/api/bonds/7", "alice-key", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

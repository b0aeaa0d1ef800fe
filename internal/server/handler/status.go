package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/knowton/bondledger/internal/domain"
	"github.com/knowton/bondledger/internal/server/middleware"
)

// StatusHandler serves the operational status of the ledger and the pause
// controls used during incident response. Pause and resume are restricted
// to callers holding the issuer role.
type StatusHandler struct {
	svc       LedgerService
	access    domain.AccessController
	pause     domain.PauseSwitch
	mode      string
	startedAt time.Time
	logger    *slog.Logger
}

// NewStatusHandler creates a StatusHandler. pause may be nil when no pause
// backend is configured; the controls then report an error.
func NewStatusHandler(svc LedgerService, access domain.AccessController, pause domain.PauseSwitch, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{
		svc:       svc,
		access:    access,
		pause:     pause,
		mode:      mode,
		startedAt: time.Now().UTC(),
		logger:    logger,
	}
}

// GetStatus reports run mode, pause state and bond counts per status.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	paused := false
	if h.pause != nil {
		p, err := h.pause.IsPaused(r.Context())
		if err != nil {
			h.logger.WarnContext(r.Context(), "pause state check failed", slog.String("error", err.Error()))
		} else {
			paused = p
		}
	}

	counts := map[string]int{}
	for _, status := range []domain.BondStatus{domain.BondActive, domain.BondMatured, domain.BondDefaulted} {
		counts[string(status)] = len(h.svc.ListBonds(r.Context(), status))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.mode,
		"paused":         paused,
		"bonds":          counts,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
	})
}

// Pause halts all state-changing ledger operations.
// POST /api/admin/pause
func (h *StatusHandler) Pause(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, true)
}

// Resume lifts the pause.
// POST /api/admin/resume
func (h *StatusHandler) Resume(w http.ResponseWriter, r *http.Request) {
	h.setPaused(w, r, false)
}

func (h *StatusHandler) setPaused(w http.ResponseWriter, r *http.Request, paused bool) {
	if h.pause == nil {
		writeError(w, http.StatusNotImplemented, "no pause backend configured")
		return
	}

	caller := middleware.Caller(r.Context())
	if h.access == nil {
		writeError(w, http.StatusForbidden, "caller is not authorized to change pause state")
		return
	}
	ok, err := h.access.IsAuthorized(r.Context(), caller, domain.RoleIssuer)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "pause authorization check failed",
			slog.String("caller", caller),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to check authorization")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "caller is not authorized to change pause state")
		return
	}

	if paused {
		err = h.pause.Pause(r.Context())
	} else {
		err = h.pause.Resume(r.Context())
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "pause toggle failed",
			slog.Bool("paused", paused),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to update pause state")
		return
	}

	h.logger.InfoContext(r.Context(), "pause state changed", slog.Bool("paused", paused))
	writeJSON(w, http.StatusOK, map[string]bool{"paused": paused})
}

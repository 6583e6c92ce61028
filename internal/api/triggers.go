package api

import (
	"errors"
	"net/http"

	"github.com/sumline/sumline-core/internal/reconcile"
)

// handleReconcile triggers an immediate reconciliation pass.
// Used during commissioning to verify the fleet without waiting for the
// next hourly tick. Returns 409 when a pass is already in flight.
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeUnavailable(w, "reconciliation engine not running")
		return
	}

	report, err := s.engine.OnHourTick(r.Context())
	if err != nil {
		if errors.Is(err, reconcile.ErrTickInProgress) {
			writeConflict(w, "a reconciliation pass is already in progress")
			return
		}
		s.logger.Error("manual reconciliation failed", "error", err)
		writeInternalError(w, "reconciliation failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// handleDiscoveryScan runs a discovery scan against the host inventory and
// returns the proposed device specs. Nothing is registered; the response
// is a preview for the commissioning workflow.
func (s *Server) handleDiscoveryScan(w http.ResponseWriter, r *http.Request) {
	if s.classifier == nil {
		writeUnavailable(w, "discovery classifier not running")
		return
	}

	specs, err := s.classifier.Discover(r.Context(), s.cfg.Driver.ID)
	if err != nil {
		if errors.Is(err, reconcile.ErrDiscoveryFailed) {
			writeError(w, http.StatusBadGateway, ErrCodeUnavailable, "host inventory fetch failed")
			return
		}
		s.logger.Error("discovery scan failed", "error", err)
		writeInternalError(w, "discovery scan failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"specs": specs,
		"count": len(specs),
	})
}

package handler

import (
	"context"
	"net/http"

	"github.com/edvin/screensync/internal/api/response"
	"github.com/edvin/screensync/internal/reconcile"
)

// Sweeper runs a reconciliation sweep inline.
type Sweeper interface {
	RunReconciliationSweep(ctx context.Context) (*reconcile.SweepResult, error)
}

// SweepStarter starts a sweep as a background workflow.
type SweepStarter interface {
	StartSweep(ctx context.Context) (string, error)
}

type Sweep struct {
	sweeper Sweeper
	starter SweepStarter
}

func NewSweep(sweeper Sweeper, starter SweepStarter) *Sweep {
	return &Sweep{sweeper: sweeper, starter: starter}
}

// Run reconciles every linked screen. With ?async=true the sweep is handed
// to the worker and 202 is returned with the workflow id.
func (h *Sweep) Run(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("async") == "true" {
		if h.starter == nil {
			response.WriteError(w, http.StatusServiceUnavailable, "no workflow scheduler configured")
			return
		}
		id, err := h.starter.StartSweep(r.Context())
		if err != nil {
			response.WriteError(w, http.StatusInternalServerError, err.Error())
			return
		}
		response.WriteJSON(w, http.StatusAccepted, map[string]string{"workflow_id": id})
		return
	}

	res, err := h.sweeper.RunReconciliationSweep(r.Context())
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, res)
}

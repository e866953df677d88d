package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/screensync/internal/api/request"
	"github.com/edvin/screensync/internal/api/response"
	"github.com/edvin/screensync/internal/core"
	"github.com/edvin/screensync/internal/model"
	"github.com/edvin/screensync/internal/platform"
)

// TraceReader looks up stored traces.
type TraceReader interface {
	GetByID(ctx context.Context, id string) (*model.Trace, error)
	ListBySubject(ctx context.Context, subject string, limit int) ([]model.Trace, error)
}

type Trace struct {
	traces TraceReader
}

func NewTrace(traces TraceReader) *Trace {
	return &Trace{traces: traces}
}

// Get returns one trace by correlation id.
func (h *Trace) Get(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !platform.IsID(id) {
		response.WriteError(w, http.StatusBadRequest, "trace id must be a UUID")
		return
	}

	t, err := h.traces.GetByID(r.Context(), id)
	if err != nil {
		if core.IsNotFound(err) {
			response.WriteError(w, http.StatusNotFound, "trace not found")
			return
		}
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	response.WriteJSON(w, http.StatusOK, t)
}

// ListBySubject returns the latest traces for a screen or advertiser.
func (h *Trace) ListBySubject(w http.ResponseWriter, r *http.Request) {
	subject, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	traces, err := h.traces.ListBySubject(r.Context(), subject, request.ParseLimit(r))
	if err != nil {
		response.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if traces == nil {
		traces = []model.Trace{}
	}
	response.WriteJSON(w, http.StatusOK, traces)
}

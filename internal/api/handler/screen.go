package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/screensync/internal/api/request"
	"github.com/edvin/screensync/internal/api/response"
	"github.com/edvin/screensync/internal/model"
	"github.com/edvin/screensync/internal/reconcile"
)

// ScreenSync is the reconciler surface exposed over HTTP.
type ScreenSync interface {
	EnsureScreenPlaylist(ctx context.Context, screenID string) (*reconcile.EnsureResult, error)
	ReconcileScreen(ctx context.Context, screenID string) *reconcile.Result
	CheckScreen(ctx context.Context, screenID string) *reconcile.Result
}

type Screen struct {
	sync ScreenSync
}

func NewScreen(sync ScreenSync) *Screen {
	return &Screen{sync: sync}
}

// EnsurePlaylist provisions or adopts the screen's desired playlist.
func (h *Screen) EnsurePlaylist(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.sync.EnsureScreenPlaylist(r.Context(), id)
	if err != nil {
		code := reconcile.CodeOf(err)
		response.WriteFailure(w, response.StatusFor(code), code, err.Error())
		return
	}

	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	response.WriteJSON(w, status, res)
}

// Reconcile runs one reconciliation cycle. The result carries any failure
// code; only an unknown screen changes the status.
func (h *Screen) Reconcile(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeResult(w, h.sync.ReconcileScreen(r.Context(), id))
}

// Sync reports drift and mapping health without writing.
func (h *Screen) Sync(w http.ResponseWriter, r *http.Request) {
	id, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeResult(w, h.sync.CheckScreen(r.Context(), id))
}

func writeResult(w http.ResponseWriter, res *reconcile.Result) {
	status := http.StatusOK
	if res.Code == model.CodeScreenNotFound {
		status = http.StatusNotFound
	}
	response.WriteJSON(w, status, res)
}

package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/edvin/screensync/internal/api/request"
	"github.com/edvin/screensync/internal/api/response"
	"github.com/edvin/screensync/internal/model"
)

// Publisher runs publish invocations.
type Publisher interface {
	PublishNow(ctx context.Context, advertiserID string, targets []string) *model.Trace
	PublishDryRun(ctx context.Context, advertiserID string, targets []string) *model.Trace
}

type Publish struct {
	pipeline Publisher
}

func NewPublish(pipeline Publisher) *Publish {
	return &Publish{pipeline: pipeline}
}

// Publish delivers the advertiser's playable asset. The trace is the
// response body whatever the outcome.
func (h *Publish) Publish(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.pipeline.PublishNow)
}

// DryRun predicts the outcome of Publish without writing anything.
func (h *Publish) DryRun(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, h.pipeline.PublishDryRun)
}

func (h *Publish) run(w http.ResponseWriter, r *http.Request, fn func(context.Context, string, []string) *model.Trace) {
	advertiserID, err := request.RequireID(chi.URLParam(r, "id"))
	if err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req request.Publish
	if err := request.DecodeOptional(r, &req); err != nil {
		response.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	response.WriteJSON(w, http.StatusOK, fn(r.Context(), advertiserID, req.Targets))
}

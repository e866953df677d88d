package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/screensync/internal/api/response"
	"github.com/edvin/screensync/internal/model"
	"github.com/edvin/screensync/internal/reconcile"
)

func TestScreen_EnsurePlaylist_Created(t *testing.T) {
	svc := new(mockScreenSync)
	h := NewScreen(svc)
	svc.On("EnsureScreenPlaylist", mock.Anything, "scr-1").
		Return(&reconcile.EnsureResult{PlaylistID: 100, Created: true, ItemCount: 1}, nil)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/screens/scr-1/playlist", nil), "id", "scr-1")
	h.EnsurePlaylist(rec, r)

	assert.Equal(t, http.StatusCreated, rec.Code)
	var res reconcile.EnsureResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, int64(100), res.PlaylistID)
	svc.AssertExpectations(t)
}

func TestScreen_EnsurePlaylist_Existing(t *testing.T) {
	svc := new(mockScreenSync)
	h := NewScreen(svc)
	svc.On("EnsureScreenPlaylist", mock.Anything, "scr-1").
		Return(&reconcile.EnsureResult{PlaylistID: 100}, nil)

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/screens/scr-1/playlist", nil), "id", "scr-1")
	h.EnsurePlaylist(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestScreen_EnsurePlaylist_Failures(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   model.FailureCode
		action model.Action
	}{
		{"unknown screen", &reconcile.Error{Code: model.CodeScreenNotFound, Err: errors.New("no rows")}, http.StatusNotFound, model.CodeScreenNotFound, model.ActionManualReview},
		{"not linked", &reconcile.Error{Code: model.CodeScreenNotLinked, Err: errors.New("no device")}, http.StatusConflict, model.CodeScreenNotLinked, model.ActionManualReview},
		{"provision failed", &reconcile.Error{Code: model.CodeProvisionFailed, Err: errors.New("no template")}, http.StatusBadGateway, model.CodeProvisionFailed, model.ActionRetry},
		{"unclassified", errors.New("boom"), http.StatusInternalServerError, model.CodeInternal, model.ActionManualReview},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(mockScreenSync)
			h := NewScreen(svc)
			svc.On("EnsureScreenPlaylist", mock.Anything, "scr-1").Return(nil, tt.err)

			rec := httptest.NewRecorder()
			r := withChiURLParam(newRequest(http.MethodPost, "/screens/scr-1/playlist", nil), "id", "scr-1")
			h.EnsurePlaylist(rec, r)

			assert.Equal(t, tt.status, rec.Code)
			var body response.Failure
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.action, body.Action)
		})
	}
}

func TestScreen_EnsurePlaylist_InvalidID(t *testing.T) {
	h := NewScreen(new(mockScreenSync))

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/screens/x/playlist", nil), "id", "../etc")
	h.EnsurePlaylist(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.NotEmpty(t, decodeErrorResponse(rec)["error"])
}

func TestScreen_Reconcile(t *testing.T) {
	svc := new(mockScreenSync)
	h := NewScreen(svc)
	svc.On("ReconcileScreen", mock.Anything, "scr-1").Return(&reconcile.Result{
		ScreenID:      "scr-1",
		DriftDetected: true,
		Repaired:      true,
		InSync:        true,
	})

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/screens/scr-1/reconcile", nil), "id", "scr-1")
	h.Reconcile(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	var res reconcile.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Repaired)
	assert.True(t, res.InSync)
}

func TestScreen_Reconcile_FailureStillOK(t *testing.T) {
	svc := new(mockScreenSync)
	h := NewScreen(svc)
	svc.On("ReconcileScreen", mock.Anything, "scr-1").Return(&reconcile.Result{
		ScreenID: "scr-1",
		Code:     model.CodeDriftRepairFailed,
		Action:   model.ActionRetry,
	})

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodPost, "/screens/scr-1/reconcile", nil), "id", "scr-1")
	h.Reconcile(rec, r)

	assert.Equal(t, http.StatusOK, rec.Code)
	var res reconcile.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, model.CodeDriftRepairFailed, res.Code)
}

func TestScreen_Sync_UnknownScreen(t *testing.T) {
	svc := new(mockScreenSync)
	h := NewScreen(svc)
	svc.On("CheckScreen", mock.Anything, "scr-9").Return(&reconcile.Result{
		ScreenID: "scr-9",
		Code:     model.CodeScreenNotFound,
	})

	rec := httptest.NewRecorder()
	r := withChiURLParam(newRequest(http.MethodGet, "/screens/scr-9/sync", nil), "id", "scr-9")
	h.Sync(rec, r)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	svc.AssertNotCalled(t, "ReconcileScreen", mock.Anything, mock.Anything)
}

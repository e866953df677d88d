package activity

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/temporal"

	"github.com/edvin/screensync/internal/controlplane"
	"github.com/edvin/screensync/internal/core"
	"github.com/edvin/screensync/internal/model"
	"github.com/edvin/screensync/internal/mutator"
	"github.com/edvin/screensync/internal/reconcile"
	"github.com/edvin/screensync/internal/trace"
)

// Sweeper runs a reconciliation pass over all screens.
type Sweeper interface {
	RunReconciliationSweep(ctx context.Context) (*reconcile.SweepResult, error)
}

// DeviceReader reads screen mappings and playlists from the control plane.
type DeviceReader interface {
	GetScreen(ctx context.Context, deviceID int64) (*controlplane.Screen, error)
	GetPlaylist(ctx context.Context, id int64) (*controlplane.Playlist, error)
}

// ScreenStore reads screens and records push results.
type ScreenStore interface {
	GetByID(ctx context.Context, id string) (*model.Screen, error)
	RecordPush(ctx context.Context, id, result string) error
}

// Sync contains the activities behind the scheduled sweep and deferred
// re-verification.
type Sync struct {
	sweeper Sweeper
	api     DeviceReader
	screens ScreenStore
	sink    *trace.Sink
}

// NewSync creates a new Sync activity struct. sink may be nil.
func NewSync(sweeper Sweeper, api DeviceReader, screens ScreenStore, sink *trace.Sink) *Sync {
	return &Sync{sweeper: sweeper, api: api, screens: screens, sink: sink}
}

// RunReconciliationSweep reconciles every linked screen once and records
// the pass as a trace.
func (a *Sync) RunReconciliationSweep(ctx context.Context) (*reconcile.SweepResult, error) {
	rec := trace.New(model.OperationReconcile, "sweep", false)
	step := rec.Step("sweep")

	res, err := a.sweeper.RunReconciliationSweep(ctx)
	if res != nil {
		step.Detail("processed", res.Processed).Detail("ok", res.OK).Detail("failed", res.Failed)
		for _, e := range res.Errors {
			tgt := rec.Target(e.ScreenID)
			tgt.Step("reconcile").Fail(model.FailureCode(e.Code), fmt.Errorf("%s", e.Message))
			tgt.Fail(model.FailureCode(e.Code))
		}
	}
	if err != nil {
		code := model.CodeInternal
		if res == nil {
			code = model.CodeStorageError
		}
		step.Fail(code, err)
		a.sink.Record(ctx, rec.Finish(model.OutcomeFailed, code, err.Error()))
		return res, fmt.Errorf("reconciliation sweep: %w", err)
	}
	step.OK()

	var t *model.Trace
	switch {
	case res.Processed == 0:
		t = rec.Finish(model.OutcomeNoTargets, "", "no linked screens")
	case res.Failed == 0:
		t = rec.Finish(model.OutcomeSuccess, "", "")
	case res.OK == 0:
		t = rec.Finish(model.OutcomeFailed, model.FailureCode(res.Errors[0].Code), "every screen failed")
	default:
		t = rec.Finish(model.OutcomePartial, model.FailureCode(res.Errors[0].Code), fmt.Sprintf("%d of %d screens failed", res.Failed, res.Processed))
	}
	a.sink.Record(ctx, t)
	return res, nil
}

// VerifyResult is the outcome of a deferred read-back.
type VerifyResult struct {
	Confirmed bool   `json:"confirmed"`
	Empty     bool   `json:"empty"`
	ItemCount int    `json:"item_count"`
	Message   string `json:"message,omitempty"`
}

// VerifyPlaylist re-reads a screen's mapping and playlist after an
// unconfirmed write. A definite answer is recorded on the screen; an empty
// read-back is returned for the caller to try again later.
func (a *Sync) VerifyPlaylist(ctx context.Context, params model.VerifyPlaylistParams) (*VerifyResult, error) {
	scr, err := a.screens.GetByID(ctx, params.ScreenID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, temporal.NewNonRetryableApplicationError(
				fmt.Sprintf("screen %s not found", params.ScreenID), string(model.CodeScreenNotFound), err)
		}
		return nil, fmt.Errorf("get screen %s: %w", params.ScreenID, err)
	}
	if !scr.Linked() {
		return nil, temporal.NewNonRetryableApplicationError(
			fmt.Sprintf("screen %s has no device", params.ScreenID), string(model.CodeScreenNotLinked), nil)
	}

	device, err := a.api.GetScreen(ctx, *scr.DeviceID)
	if err != nil {
		return nil, fmt.Errorf("get device %d: %w", *scr.DeviceID, err)
	}
	res := &VerifyResult{}
	if src := device.Source(); !src.IsPlaylist(params.PlaylistID) {
		res.Message = fmt.Sprintf("device shows %s %d instead of playlist %d", src.Type, src.ID, params.PlaylistID)
		return res, a.record(ctx, params.ScreenID, model.SyncResultFailed)
	}

	pl, err := a.api.GetPlaylist(ctx, params.PlaylistID)
	if err != nil {
		return nil, fmt.Errorf("get playlist %d: %w", params.PlaylistID, err)
	}
	res.ItemCount = len(pl.Items)
	switch {
	case len(pl.Items) == 0:
		res.Empty = true
		res.Message = "playlist still reads back empty"
		return res, nil
	case mutator.ContainsMedia(pl.Items, params.MediaID):
		res.Confirmed = true
		return res, a.record(ctx, params.ScreenID, model.SyncResultOK)
	default:
		res.Message = fmt.Sprintf("media %d missing from playlist %d", params.MediaID, params.PlaylistID)
		return res, a.record(ctx, params.ScreenID, model.SyncResultFailed)
	}
}

// RecordPushResultParams holds the parameters for RecordPushResult.
type RecordPushResultParams struct {
	ScreenID string `json:"screen_id"`
	Result   string `json:"result"`
}

// RecordPushResult writes a push result onto a screen.
func (a *Sync) RecordPushResult(ctx context.Context, params RecordPushResultParams) error {
	return a.record(ctx, params.ScreenID, params.Result)
}

func (a *Sync) record(ctx context.Context, screenID, result string) error {
	if err := a.screens.RecordPush(ctx, screenID, result); err != nil {
		return fmt.Errorf("record push result for screen %s: %w", screenID, err)
	}
	return nil
}

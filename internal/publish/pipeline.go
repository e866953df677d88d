// Package publish delivers an advertiser's current creative to its screens
// and records every stage in a trace.
package publish

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/screensync/internal/controlplane"
	"github.com/edvin/screensync/internal/core"
	"github.com/edvin/screensync/internal/model"
	"github.com/edvin/screensync/internal/mutator"
	"github.com/edvin/screensync/internal/reconcile"
	"github.com/edvin/screensync/internal/trace"
)

// AssetStore reads advertiser creatives.
type AssetStore interface {
	ListCurrent(ctx context.Context, advertiserID string) ([]model.Asset, error)
}

// PlacementStore resolves the screens an advertiser is placed on.
type PlacementStore interface {
	ActiveScreenIDs(ctx context.Context, advertiserID string) ([]string, error)
}

// ScreenStore reads screens and records push results.
type ScreenStore interface {
	GetByID(ctx context.Context, id string) (*model.Screen, error)
	RecordPush(ctx context.Context, id, result string) error
}

// DeviceAPI is the subset of the control-plane gateway the pipeline uses.
type DeviceAPI interface {
	GetMedia(ctx context.Context, id int64) (*controlplane.Media, error)
	GetScreen(ctx context.Context, deviceID int64) (*controlplane.Screen, error)
	GetPlaylist(ctx context.Context, id int64) (*controlplane.Playlist, error)
	PushScreen(ctx context.Context, deviceID int64) error
}

// Reconciler provisions playlists and heals screen mappings.
type Reconciler interface {
	EnsureScreenPlaylist(ctx context.Context, screenID string) (*reconcile.EnsureResult, error)
	HealScreen(ctx context.Context, screenID string) *reconcile.Result
	CheckScreen(ctx context.Context, screenID string) *reconcile.Result
}

// Appender adds media to a playlist.
type Appender interface {
	AppendMedia(ctx context.Context, playlistID, mediaID int64, duration int) (*mutator.AppendResult, error)
}

// Reverifier schedules a deferred read-back of an unconfirmed write.
type Reverifier interface {
	ScheduleReverify(ctx context.Context, params model.VerifyPlaylistParams) error
}

// Options tunes the pipeline.
type Options struct {
	// SettleDelay is waited between a push and its verification.
	SettleDelay time.Duration
	// DefaultDuration is used when neither the asset nor the media carries a
	// display duration.
	DefaultDuration int
}

// Deps groups the collaborators of a Pipeline. Reverifier and Sink are
// optional.
type Deps struct {
	API        DeviceAPI
	Assets     AssetStore
	Placements PlacementStore
	Screens    ScreenStore
	Reconciler Reconciler
	Mutator    Appender
	Reverifier Reverifier
	Sink       *trace.Sink
}

// Pipeline runs publish and dry-run invocations.
type Pipeline struct {
	api        DeviceAPI
	assets     AssetStore
	placements PlacementStore
	screens    ScreenStore
	reconciler Reconciler
	mutator    Appender
	reverifier Reverifier
	sink       *trace.Sink
	opts       Options
	logger     zerolog.Logger
	sleep      func(context.Context, time.Duration) error
}

// New creates a pipeline.
func New(deps Deps, opts Options, logger zerolog.Logger) *Pipeline {
	if opts.DefaultDuration <= 0 {
		opts.DefaultDuration = 10
	}
	return &Pipeline{
		api:        deps.API,
		assets:     deps.Assets,
		placements: deps.Placements,
		screens:    deps.Screens,
		reconciler: deps.Reconciler,
		mutator:    deps.Mutator,
		reverifier: deps.Reverifier,
		sink:       deps.Sink,
		opts:       opts,
		logger:     logger.With().Str("component", "publish").Logger(),
		sleep:      sleepCtx,
	}
}

// PublishNow delivers the advertiser's playable asset to the given screens,
// or to every placed screen when targets is empty.
func (p *Pipeline) PublishNow(ctx context.Context, advertiserID string, targets []string) *model.Trace {
	return p.publish(ctx, advertiserID, targets, false)
}

// PublishDryRun predicts the outcome of PublishNow without writing anything.
func (p *Pipeline) PublishDryRun(ctx context.Context, advertiserID string, targets []string) *model.Trace {
	return p.publish(ctx, advertiserID, targets, true)
}

func (p *Pipeline) publish(ctx context.Context, advertiserID string, targets []string, dryRun bool) *model.Trace {
	start := time.Now()
	op := model.OperationPublish
	if dryRun {
		op = model.OperationPublishDryRun
	}
	rec := trace.New(op, advertiserID, dryRun)
	log := p.logger.With().
		Str("correlation_id", rec.CorrelationID()).
		Str("advertiser_id", advertiserID).
		Bool("dry_run", dryRun).
		Logger()

	t := p.execute(ctx, rec, advertiserID, targets, dryRun, log)

	runsTotal.WithLabelValues(op, t.Outcome).Inc()
	runDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	p.sink.Record(ctx, t)

	ev := log.Info()
	if t.Outcome == model.OutcomeFailed || t.Outcome == model.OutcomePartial {
		ev = log.Warn()
	}
	ev.Str("outcome", t.Outcome).
		Str("code", string(t.Code)).
		Int("targets", len(t.Targets)).
		Dur("duration", time.Since(start)).
		Msg("publish finished")
	return t
}

func (p *Pipeline) execute(ctx context.Context, rec *trace.Recorder, advertiserID string, targets []string, dryRun bool, log zerolog.Logger) *model.Trace {
	asset, serr := p.resolveAsset(ctx, rec, advertiserID)
	if serr != nil {
		return rec.Finish(model.OutcomeFailed, serr.code, serr.msg)
	}
	media, serr := p.checkMedia(ctx, rec, *asset.RemoteMediaID)
	if serr != nil {
		return rec.Finish(model.OutcomeFailed, serr.code, serr.msg)
	}
	screenIDs, serr := p.resolveTargets(ctx, rec, advertiserID, targets)
	if serr != nil {
		return rec.Finish(model.OutcomeFailed, serr.code, serr.msg)
	}
	if len(screenIDs) == 0 {
		return rec.Finish(model.OutcomeNoTargets, "", "advertiser has no active placements")
	}

	duration := p.displayDuration(asset, media)
	var failed int
	var firstCode model.FailureCode
	for _, screenID := range screenIDs {
		tgt := rec.Target(screenID)
		if dryRun {
			p.checkTarget(ctx, tgt, screenID, media.ID)
		} else {
			p.publishTarget(ctx, rec, tgt, screenID, media.ID, duration, log)
		}

		if tgt.Failed() {
			failed++
			if firstCode == "" {
				firstCode = tgt.Code()
			}
			targetsTotal.WithLabelValues("failed").Inc()
			continue
		}
		targetsTotal.WithLabelValues("ok").Inc()
	}

	rec.Step("aggregate").
		Detail("targets", len(screenIDs)).
		Detail("failed", failed).
		OK()

	switch {
	case failed == 0:
		return rec.Finish(model.OutcomeSuccess, "", "")
	case failed == len(screenIDs):
		return rec.Finish(model.OutcomeFailed, firstCode, fmt.Sprintf("all %d target(s) failed", failed))
	default:
		return rec.Finish(model.OutcomePartial, firstCode, fmt.Sprintf("%d of %d target(s) failed", failed, len(screenIDs)))
	}
}

func (p *Pipeline) resolveAsset(ctx context.Context, rec *trace.Recorder, advertiserID string) (*model.Asset, *stageError) {
	step := rec.Step("asset_selection")
	assets, err := p.assets.ListCurrent(ctx, advertiserID)
	if err != nil {
		serr := failf(model.CodeStorageError, "list assets: %v", err)
		step.Fail(serr.code, serr)
		return nil, serr
	}
	step.Detail("candidates", len(assets))

	asset, serr := selectAsset(assets)
	if serr != nil {
		step.Fail(serr.code, serr)
		return nil, serr
	}
	step.Detail("asset_id", asset.ID).
		Detail("remote_media_id", *asset.RemoteMediaID).
		Detail("size_bytes", asset.SizeBytes).
		OK()
	return asset, nil
}

func (p *Pipeline) checkMedia(ctx context.Context, rec *trace.Recorder, mediaID int64) (*controlplane.Media, *stageError) {
	step := rec.Step("media_readiness").Detail("media_id", mediaID)
	m, err := p.api.GetMedia(ctx, mediaID)
	if err != nil {
		serr := failf(model.CodeTransportError, "get media %d: %v", mediaID, err)
		if controlplane.IsNotFound(err) {
			serr = failf(model.CodeMediaNotFound, "media %d does not exist in the control plane", mediaID)
		}
		step.Fail(serr.code, serr)
		return nil, serr
	}
	step.Detail("status", m.Status).Detail("file_size", m.FileSize)
	if serr := mediaReady(m); serr != nil {
		step.Fail(serr.code, serr)
		return nil, serr
	}
	step.OK()
	return m, nil
}

func (p *Pipeline) resolveTargets(ctx context.Context, rec *trace.Recorder, advertiserID string, explicit []string) ([]string, *stageError) {
	step := rec.Step("target_resolution")
	if ids := normalizeTargets(explicit); len(ids) > 0 {
		step.Detail("source", "explicit").Detail("count", len(ids)).OK()
		return ids, nil
	}

	ids, err := p.placements.ActiveScreenIDs(ctx, advertiserID)
	if err != nil {
		serr := failf(model.CodeStorageError, "list placements: %v", err)
		step.Fail(serr.code, serr)
		return nil, serr
	}
	ids = normalizeTargets(ids)
	step.Detail("source", "placements").Detail("count", len(ids)).OK()
	return ids, nil
}

func (p *Pipeline) displayDuration(asset *model.Asset, media *controlplane.Media) int {
	if asset.DurationSeconds > 0 {
		return asset.DurationSeconds
	}
	if d := int(math.Round(media.Duration)); d > 0 {
		return d
	}
	return p.opts.DefaultDuration
}

func (p *Pipeline) loadTarget(ctx context.Context, tgt *trace.Target, screenID string) (*model.Screen, bool) {
	step := tgt.Step("load_screen")
	scr, err := p.screens.GetByID(ctx, screenID)
	if err != nil {
		code := model.CodeStorageError
		if core.IsNotFound(err) {
			code = model.CodeScreenNotFound
		}
		step.Fail(code, err)
		tgt.Fail(code)
		return nil, false
	}
	if !scr.Linked() {
		step.Fail(model.CodeScreenNotLinked, fmt.Errorf("screen %s has no device", screenID))
		tgt.Fail(model.CodeScreenNotLinked)
		return nil, false
	}
	step.Detail("device_id", *scr.DeviceID).OK()
	return scr, true
}

func (p *Pipeline) publishTarget(ctx context.Context, rec *trace.Recorder, tgt *trace.Target, screenID string, mediaID int64, duration int, log zerolog.Logger) {
	scr, ok := p.loadTarget(ctx, tgt, screenID)
	if !ok {
		return
	}
	deviceID := *scr.DeviceID

	step := tgt.Step("ensure_playlist")
	ens, err := p.reconciler.EnsureScreenPlaylist(ctx, screenID)
	if err != nil {
		code := reconcile.CodeOf(err)
		step.Fail(code, err)
		tgt.Fail(code)
		return
	}
	step.Detail("playlist_id", ens.PlaylistID).
		Detail("created", ens.Created).
		Detail("adopted", ens.Adopted).
		Detail("item_count", ens.ItemCount).
		OK()
	playlistID := ens.PlaylistID

	step = tgt.Step("mapping")
	res := p.reconciler.HealScreen(ctx, screenID)
	step.Detail("state", string(res.State)).
		Detail("drift_detected", res.DriftDetected).
		Detail("repaired", res.Repaired).
		Detail("actual_type", res.ActualSource.Type).
		Detail("actual_id", res.ActualSource.ID)
	if res.Failed() {
		step.Fail(res.Code, resultError(res))
		tgt.Fail(res.Code)
		return
	}
	step.OK()

	step = tgt.Step("append").Detail("playlist_id", playlistID).Detail("media_id", mediaID)
	appended, err := p.mutator.AppendMedia(ctx, playlistID, mediaID, duration)
	if err != nil {
		code := mutator.CodeOf(err, model.CodePlaylistUpdateFailed)
		step.Fail(code, err)
		tgt.Fail(code)
		p.recordPush(ctx, screenID, model.SyncResultFailed, log)
		return
	}
	step.Detail("already_exists", appended.AlreadyExists).
		Detail("item_count", appended.ItemCountAfter).
		Detail("duplicates_removed", appended.DuplicatesRemoved).
		Detail("unconfirmed", appended.Unconfirmed)
	if appended.Encoding != "" {
		step.Detail("encoding", string(appended.Encoding))
	}
	step.OK()

	if !p.push(ctx, tgt, "push", deviceID) {
		p.recordPush(ctx, screenID, model.SyncResultFailed, log)
		return
	}
	v := p.verify(ctx, tgt, "verify", deviceID, playlistID, mediaID)
	if !v.confirmed {
		if !p.push(ctx, tgt, "push_retry", deviceID) {
			p.recordPush(ctx, screenID, model.SyncResultFailed, log)
			return
		}
		v = p.verify(ctx, tgt, "verify_retry", deviceID, playlistID, mediaID)
	}

	switch {
	case v.confirmed:
		p.recordPush(ctx, screenID, model.SyncResultOK, log)
	case v.empty:
		tgt.Warn(model.CodeVerifyFailed)
		p.recordPush(ctx, screenID, model.SyncResultUnconfirmed, log)
		p.scheduleReverify(ctx, tgt, model.VerifyPlaylistParams{
			ScreenID:      screenID,
			PlaylistID:    playlistID,
			MediaID:       mediaID,
			CorrelationID: rec.CorrelationID(),
		}, log)
	default:
		tgt.Fail(model.CodeVerifyFailed)
		p.recordPush(ctx, screenID, model.SyncResultFailed, log)
	}
}

func (p *Pipeline) push(ctx context.Context, tgt *trace.Target, name string, deviceID int64) bool {
	step := tgt.Step(name).Detail("device_id", deviceID)
	if err := p.api.PushScreen(ctx, deviceID); err != nil {
		step.Fail(model.CodePushFailed, err)
		tgt.Fail(model.CodePushFailed)
		return false
	}
	step.OK()
	return true
}

type verification struct {
	confirmed bool
	// empty means the playlist read back with no items at all, which the
	// control plane does transiently after a write.
	empty bool
}

func (p *Pipeline) verify(ctx context.Context, tgt *trace.Target, name string, deviceID, playlistID, mediaID int64) verification {
	step := tgt.Step(name).Detail("settle_ms", p.opts.SettleDelay.Milliseconds())
	if err := p.sleep(ctx, p.opts.SettleDelay); err != nil {
		step.Fail(model.CodeVerifyFailed, err)
		return verification{}
	}

	device, err := p.api.GetScreen(ctx, deviceID)
	if err != nil {
		step.Fail(model.CodeVerifyFailed, fmt.Errorf("re-read screen: %w", err))
		return verification{}
	}
	if src := device.Source(); !src.IsPlaylist(playlistID) {
		step.Detail("actual_type", src.Type).
			Detail("actual_id", src.ID).
			Fail(model.CodeVerifyFailed, fmt.Errorf("device shows %s %d instead of playlist %d", src.Type, src.ID, playlistID))
		return verification{}
	}

	pl, err := p.api.GetPlaylist(ctx, playlistID)
	if err != nil {
		step.Fail(model.CodeVerifyFailed, fmt.Errorf("re-read playlist: %w", err))
		return verification{}
	}
	step.Detail("item_count", len(pl.Items))
	if len(pl.Items) == 0 {
		step.Warn(model.CodeVerifyFailed, errors.New("playlist read back empty"))
		return verification{empty: true}
	}
	if !mutator.ContainsMedia(pl.Items, mediaID) {
		step.Fail(model.CodeVerifyFailed, fmt.Errorf("media %d missing from playlist %d", mediaID, playlistID))
		return verification{}
	}
	step.OK()
	return verification{confirmed: true}
}

func (p *Pipeline) scheduleReverify(ctx context.Context, tgt *trace.Target, params model.VerifyPlaylistParams, log zerolog.Logger) {
	step := tgt.Step("schedule_reverify")
	if p.reverifier == nil {
		step.Skip("no scheduler configured")
		return
	}
	if err := p.reverifier.ScheduleReverify(ctx, params); err != nil {
		log.Warn().Err(err).Str("screen_id", params.ScreenID).Msg("failed to schedule re-verification")
		step.Warn(model.CodeTransportError, err)
		return
	}
	reverifiesScheduled.Inc()
	step.OK()
}

// checkTarget is the read-only counterpart of publishTarget.
func (p *Pipeline) checkTarget(ctx context.Context, tgt *trace.Target, screenID string, mediaID int64) {
	if _, ok := p.loadTarget(ctx, tgt, screenID); !ok {
		return
	}

	step := tgt.Step("mapping_check")
	res := p.reconciler.CheckScreen(ctx, screenID)
	step.Detail("state", string(res.State)).
		Detail("drift_detected", res.DriftDetected).
		Detail("actual_type", res.ActualSource.Type).
		Detail("actual_id", res.ActualSource.ID).
		Detail("media_count", res.MediaCount)
	if res.Failed() {
		step.Fail(res.Code, resultError(res))
		tgt.Fail(res.Code)
		return
	}
	if res.ExpectedPlaylistID == nil {
		step.Detail("would_provision", true)
	}
	if res.DriftDetected {
		step.Detail("would_repair", true)
	}
	step.OK()

	step = tgt.Step("append")
	if res.ExpectedPlaylistID != nil {
		step.Detail("playlist_id", *res.ExpectedPlaylistID)
		if pl, err := p.api.GetPlaylist(ctx, *res.ExpectedPlaylistID); err == nil {
			step.Detail("already_present", mutator.ContainsMedia(pl.Items, mediaID)).
				Detail("item_count", len(pl.Items))
		}
	}
	step.Skip("dry run")
	tgt.Step("push").Skip("dry run")
	tgt.Step("verify").Skip("dry run")
}

func (p *Pipeline) recordPush(ctx context.Context, screenID, result string, log zerolog.Logger) {
	if err := p.screens.RecordPush(ctx, screenID, result); err != nil {
		log.Warn().Err(err).Str("screen_id", screenID).Msg("failed to record push status")
	}
}

func resultError(res *reconcile.Result) error {
	if res.Message == "" {
		return nil
	}
	return errors.New(res.Message)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

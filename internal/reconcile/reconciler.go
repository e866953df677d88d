package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edvin/screensync/internal/controlplane"
	"github.com/edvin/screensync/internal/core"
	"github.com/edvin/screensync/internal/ledger"
	"github.com/edvin/screensync/internal/model"
	"github.com/edvin/screensync/internal/mutator"
	"github.com/edvin/screensync/internal/platform"
	"github.com/edvin/screensync/internal/resolver"
)

// DeviceAPI is the subset of the control-plane gateway the reconciler uses.
type DeviceAPI interface {
	GetScreen(ctx context.Context, deviceID int64) (*controlplane.Screen, error)
	SetScreenContent(ctx context.Context, deviceID int64, sourceType string, sourceID int64) error
	GetPlaylist(ctx context.Context, id int64) (*controlplane.Playlist, error)
}

// ContentResolver flattens a content source into media ids.
type ContentResolver interface {
	Resolve(ctx context.Context, sourceType string, sourceID int64) (*resolver.Result, error)
}

// PlaylistMutator edits remote playlists.
type PlaylistMutator interface {
	AppendMedia(ctx context.Context, playlistID, mediaID int64, duration int) (*mutator.AppendResult, error)
	ClonePlaylist(ctx context.Context, templateID int64, name string) (*controlplane.Playlist, error)
}

// DesiredState is the desired-state ledger.
type DesiredState interface {
	GetExpected(ctx context.Context, screenID string) (*int64, error)
	SetExpected(ctx context.Context, screenID string, playlistID int64) error
	Adopt(ctx context.Context, screenID string, playlistID int64) error
}

// ScreenStore reads screens and records their sync status.
type ScreenStore interface {
	GetByID(ctx context.Context, id string) (*model.Screen, error)
	ListSyncCandidates(ctx context.Context) ([]model.Screen, error)
	RecordVerify(ctx context.Context, id, mode, result string) error
}

// Options carries the sync policy.
type Options struct {
	// TemplatePlaylistID is cloned when a screen needs a playlist of its own.
	TemplatePlaylistID int64
	// FillerMediaID is seeded into playlists that resolve to no media.
	FillerMediaID int64
	// FillerDuration is the display duration in seconds of the filler item.
	FillerDuration int
}

// Deps groups the collaborators of a Reconciler.
type Deps struct {
	API      DeviceAPI
	Resolver ContentResolver
	Mutator  PlaylistMutator
	Ledger   DesiredState
	Screens  ScreenStore
}

// Error is a reconciliation failure carrying its failure code.
type Error struct {
	Code model.FailureCode
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrNoTemplate is returned when a playlist must be provisioned but no
// template playlist is configured. Retrying cannot fix it.
var ErrNoTemplate = errors.New("no template playlist configured")

// CodeOf returns the failure code carried by err, classifying gateway and
// storage errors that carry none.
func CodeOf(err error) model.FailureCode {
	var rErr *Error
	if errors.As(err, &rErr) {
		return rErr.Code
	}
	var mErr *mutator.Error
	if errors.As(err, &mErr) {
		return mErr.Code
	}
	if controlplane.IsRetryable(err) {
		return model.CodeTransportError
	}
	return model.CodeInternal
}

// DriftEvent describes one detected divergence between desired and actual
// state.
type DriftEvent struct {
	Timestamp time.Time           `json:"timestamp"`
	ScreenID  string              `json:"screen_id"`
	Kind      string              `json:"kind"`
	Expected  int64               `json:"expected_playlist_id"`
	Actual    model.ContentSource `json:"actual"`
	Action    string              `json:"action"`
}

// Drift kinds.
const (
	DriftMode       = "mode"
	DriftPlaylistID = "playlist_id"
)

// Drift actions.
const (
	DriftActionRepaired     = "repaired"
	DriftActionRepairFailed = "repair_failed"
	DriftActionReported     = "reported"
)

// Result is the outcome of reconciling or checking one screen.
type Result struct {
	ScreenID           string              `json:"screen_id"`
	State              model.SyncState     `json:"state"`
	DriftDetected      bool                `json:"drift_detected"`
	InSync             bool                `json:"in_sync"`
	Repaired           bool                `json:"repaired"`
	Adopted            bool                `json:"adopted"`
	Provisioned        bool                `json:"provisioned"`
	Healthy            bool                `json:"healthy"`
	ActualSource       model.ContentSource `json:"actual_source"`
	ExpectedPlaylistID *int64              `json:"expected_playlist_id,omitempty"`
	MediaCount         int                 `json:"media_count"`
	Warnings           []string            `json:"warnings,omitempty"`
	Drift              []DriftEvent        `json:"drift,omitempty"`
	Code               model.FailureCode   `json:"code,omitempty"`
	Action             model.Action        `json:"action,omitempty"`
	Message            string              `json:"message,omitempty"`
}

// Failed reports whether the run ended in a failure. An empty playlist is a
// warning, not a failure.
func (r *Result) Failed() bool {
	return r.Code != "" && r.Code != model.CodeEmptyPlaylist
}

func (r *Result) fail(code model.FailureCode, err error) *Result {
	r.Code = code
	r.Action = model.ActionFor(code)
	if err != nil {
		r.Message = err.Error()
	}
	return r
}

// failEnsure records a failed ensure step. A missing template needs an
// operator, not another cycle.
func (r *Result) failEnsure(err error) {
	r.fail(CodeOf(err), err)
	if errors.Is(err, ErrNoTemplate) {
		r.Action = model.ActionManualReview
	}
}

func (r *Result) warn(code model.FailureCode, msg string) {
	r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %s", code, msg))
	if r.Code == "" {
		r.Code = code
		r.Action = model.ActionFor(code)
	}
}

// EnsureResult is the outcome of EnsureScreenPlaylist.
type EnsureResult struct {
	PlaylistID int64 `json:"playlist_id"`
	Created    bool  `json:"created"`
	Adopted    bool  `json:"adopted"`
	ItemCount  int   `json:"item_count"`
}

// Reconciler converges each screen's device onto its desired playlist.
type Reconciler struct {
	api      DeviceAPI
	resolver ContentResolver
	mutator  PlaylistMutator
	ledger   DesiredState
	screens  ScreenStore
	opts     Options
	logger   zerolog.Logger

	// Per-screen mutex shared by sweep and publish callers.
	locks sync.Map
}

// New creates a reconciler.
func New(deps Deps, opts Options, logger zerolog.Logger) *Reconciler {
	if opts.FillerDuration <= 0 {
		opts.FillerDuration = 10
	}
	return &Reconciler{
		api:      deps.API,
		resolver: deps.Resolver,
		mutator:  deps.Mutator,
		ledger:   deps.Ledger,
		screens:  deps.Screens,
		opts:     opts,
		logger:   logger.With().Str("component", "reconciler").Logger(),
	}
}

// LockScreen acquires the per-screen mutex. Returns an unlock function.
func (r *Reconciler) LockScreen(screenID string) func() {
	mu, _ := r.locks.LoadOrStore(screenID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	return mu.(*sync.Mutex).Unlock
}

// EnsureScreenPlaylist guarantees the screen has a desired playlist. An
// existing ledger entry wins; otherwise a playlist already live on the
// device is adopted; otherwise the template is cloned.
func (r *Reconciler) EnsureScreenPlaylist(ctx context.Context, screenID string) (*EnsureResult, error) {
	unlock := r.LockScreen(screenID)
	defer unlock()

	scr, err := r.loadScreen(ctx, screenID)
	if err != nil {
		return nil, err
	}
	return r.ensure(ctx, scr)
}

func (r *Reconciler) ensure(ctx context.Context, scr *model.Screen) (*EnsureResult, error) {
	expected, err := r.ledger.GetExpected(ctx, scr.ID)
	if err != nil {
		return nil, &Error{Code: storageCode(err), Err: err}
	}

	if expected != nil {
		p, err := r.api.GetPlaylist(ctx, *expected)
		switch {
		case err == nil:
			return &EnsureResult{PlaylistID: *expected, ItemCount: len(p.Items)}, nil
		case controlplane.IsNotFound(err):
			r.logger.Warn().
				Str("screen_id", scr.ID).
				Int64("playlist_id", *expected).
				Msg("desired playlist no longer exists, provisioning a new one")
		default:
			return nil, &Error{Code: model.CodeTransportError, Err: err}
		}
	}

	if expected == nil && scr.Linked() {
		device, err := r.api.GetScreen(ctx, *scr.DeviceID)
		if err != nil && !controlplane.IsNotFound(err) {
			return nil, &Error{Code: model.CodeTransportError, Err: err}
		}
		if err == nil {
			if src := device.Source(); src.Type == model.SourcePlaylist && src.ID > 0 {
				if err := r.ledger.Adopt(ctx, scr.ID, src.ID); err != nil {
					return nil, &Error{Code: model.CodeStorageError, Err: err}
				}
				adoptionsTotal.Inc()
				res := &EnsureResult{PlaylistID: src.ID, Adopted: true}
				if p, err := r.api.GetPlaylist(ctx, src.ID); err == nil {
					res.ItemCount = len(p.Items)
				}
				return res, nil
			}
		}
	}

	if r.opts.TemplatePlaylistID <= 0 {
		return nil, &Error{Code: model.CodeProvisionFailed, Err: ErrNoTemplate}
	}
	p, err := r.mutator.ClonePlaylist(ctx, r.opts.TemplatePlaylistID, platform.PlaylistName(scr.Name, scr.ID))
	if err != nil {
		return nil, &Error{Code: mutator.CodeOf(err, model.CodeProvisionFailed), Err: err}
	}
	if err := r.ledger.SetExpected(ctx, scr.ID, p.ID); err != nil {
		return nil, &Error{Code: model.CodeStorageError, Err: err}
	}
	provisionsTotal.Inc()
	r.logger.Info().
		Str("screen_id", scr.ID).
		Int64("playlist_id", p.ID).
		Int64("template_id", r.opts.TemplatePlaylistID).
		Msg("provisioned screen playlist")
	return &EnsureResult{PlaylistID: p.ID, Created: true, ItemCount: len(p.Items)}, nil
}

// runMode selects which side effects a run may have.
type runMode int

const (
	// modeCheck observes only.
	modeCheck runMode = iota
	// modeHeal adopts, provisions and repairs the mapping.
	modeHeal
	// modeReconcile heals and additionally guards against empty playlists
	// and records sync status.
	modeReconcile
)

func (m runMode) writes() bool { return m != modeCheck }

// ReconcileScreen runs one full reconciliation cycle for a screen. Failures
// are reported in the result, never as an error.
func (r *Reconciler) ReconcileScreen(ctx context.Context, screenID string) *Result {
	unlock := r.LockScreen(screenID)
	defer unlock()
	return r.run(ctx, screenID, modeReconcile)
}

// HealScreen converges the screen's mapping onto its desired playlist
// without touching playlist contents or sync-status fields.
func (r *Reconciler) HealScreen(ctx context.Context, screenID string) *Result {
	unlock := r.LockScreen(screenID)
	defer unlock()
	return r.run(ctx, screenID, modeHeal)
}

// CheckScreen reports drift and mapping health without writing anything.
func (r *Reconciler) CheckScreen(ctx context.Context, screenID string) *Result {
	return r.run(ctx, screenID, modeCheck)
}

func (r *Reconciler) run(ctx context.Context, screenID string, mode runMode) *Result {
	start := time.Now()
	res := &Result{ScreenID: screenID, State: model.StateNoDesiredState}
	defer func() {
		cycleDuration.Observe(time.Since(start).Seconds())
		cyclesTotal.WithLabelValues(string(res.State)).Inc()
	}()

	scr, err := r.loadScreen(ctx, screenID)
	if err != nil {
		return res.fail(CodeOf(err), err)
	}
	if !scr.Linked() {
		return res.fail(model.CodeScreenNotLinked, fmt.Errorf("screen %s has no device", screenID))
	}
	deviceID := *scr.DeviceID

	device, err := r.api.GetScreen(ctx, deviceID)
	if err != nil {
		if controlplane.IsNotFound(err) {
			return res.fail(model.CodeScreenNotFound, err)
		}
		return res.fail(model.CodeTransportError, err)
	}
	res.ActualSource = device.Source()

	expected, err := r.ledger.GetExpected(ctx, screenID)
	if err != nil {
		return res.fail(storageCode(err), err)
	}

	ensured := false
	if expected == nil {
		if !mode.writes() {
			if res.ActualSource.Type == model.SourcePlaylist && res.ActualSource.ID > 0 {
				res.Warnings = append(res.Warnings, fmt.Sprintf("no desired state recorded; live playlist %d would be adopted", res.ActualSource.ID))
			}
			return res
		}
		ens, err := r.ensure(ctx, scr)
		if err != nil {
			res.failEnsure(err)
			r.recordVerify(ctx, scr, res, mode)
			return res
		}
		ensured = true
		expected = &ens.PlaylistID
		res.Adopted = ens.Adopted
		res.Provisioned = ens.Created
		if ens.Created {
			res.State = model.StateProvisioning
		}
	}
	res.ExpectedPlaylistID = expected

	if res.ActualSource.IsPlaylist(*expected) {
		res.InSync = true
		res.State = model.StateInSync
	} else {
		res.DriftDetected = true
		res.State = model.StateDrifted

		// A desired playlist deleted on the control plane can never be
		// repaired onto; replace it before pointing the device at it.
		if mode.writes() && !ensured {
			ens, err := r.ensure(ctx, scr)
			if err != nil {
				res.failEnsure(err)
				r.recordVerify(ctx, scr, res, mode)
				return res
			}
			if ens.PlaylistID != *expected {
				expected = &ens.PlaylistID
				res.ExpectedPlaylistID = expected
				res.Provisioned = ens.Created
			}
		}

		ev := DriftEvent{
			Timestamp: time.Now().UTC(),
			ScreenID:  screenID,
			Kind:      driftKind(res.ActualSource),
			Expected:  *expected,
			Actual:    res.ActualSource,
			Action:    DriftActionReported,
		}
		driftDetected.WithLabelValues(ev.Kind).Inc()

		if mode.writes() {
			res.State = model.StateRepairing
			if err := r.repair(ctx, deviceID, *expected, res); err != nil {
				ev.Action = DriftActionRepairFailed
				res.State = model.StateRepairFailed
				res.Drift = append(res.Drift, ev)
				repairsTotal.WithLabelValues("failed").Inc()
				r.logger.Warn().Err(err).
					Str("screen_id", screenID).
					Int64("expected_playlist_id", *expected).
					Str("actual_type", res.ActualSource.Type).
					Int64("actual_id", res.ActualSource.ID).
					Msg("drift repair failed")
				res.fail(model.CodeDriftRepairFailed, err)
				r.recordVerify(ctx, scr, res, mode)
				return res
			}
			ev.Action = DriftActionRepaired
			res.Repaired = true
			res.InSync = true
			res.State = model.StateInSync
			repairsTotal.WithLabelValues("ok").Inc()
			r.logger.Info().
				Str("screen_id", screenID).
				Str("kind", ev.Kind).
				Int64("playlist_id", *expected).
				Msg("drift repaired")
		}
		res.Drift = append(res.Drift, ev)
	}

	if mode == modeHeal {
		res.Healthy = res.InSync
	} else {
		r.checkContent(ctx, *expected, res, mode)
	}
	r.recordVerify(ctx, scr, res, mode)
	return res
}

// repair points the device at the expected playlist and confirms the exact
// pair on re-read. One attempt per cycle.
func (r *Reconciler) repair(ctx context.Context, deviceID, playlistID int64, res *Result) error {
	if err := r.api.SetScreenContent(ctx, deviceID, model.SourcePlaylist, playlistID); err != nil {
		return fmt.Errorf("set screen content: %w", err)
	}
	device, err := r.api.GetScreen(ctx, deviceID)
	if err != nil {
		return fmt.Errorf("re-read screen: %w", err)
	}
	actual := device.Source()
	res.ActualSource = actual
	if !actual.IsPlaylist(playlistID) {
		return fmt.Errorf("device still shows %s %d after repair", actual.Type, actual.ID)
	}
	return nil
}

// checkContent resolves the desired playlist and applies the empty-playlist
// guard.
func (r *Reconciler) checkContent(ctx context.Context, playlistID int64, res *Result, mode runMode) {
	resolved, err := r.resolver.Resolve(ctx, model.SourcePlaylist, playlistID)
	if err != nil {
		res.Healthy = false
		res.warn(CodeOf(err), fmt.Sprintf("resolve playlist %d: %v", playlistID, err))
		return
	}
	res.MediaCount = len(resolved.MediaIDs)
	if res.MediaCount > 0 {
		res.Healthy = res.InSync
		return
	}

	res.Healthy = false
	res.warn(model.CodeEmptyPlaylist, fmt.Sprintf("playlist %d resolves to no media", playlistID))
	if mode != modeReconcile || !res.InSync || r.opts.FillerMediaID <= 0 {
		return
	}

	seeded, err := r.mutator.AppendMedia(ctx, playlistID, r.opts.FillerMediaID, r.opts.FillerDuration)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("screen_id", res.ScreenID).
			Int64("playlist_id", playlistID).
			Msg("failed to seed filler media")
		res.Warnings = append(res.Warnings, fmt.Sprintf("%s: seeding filler failed: %v", mutator.CodeOf(err, model.CodePlaylistUpdateFailed), err))
		return
	}
	fillerSeedsTotal.Inc()
	res.Warnings = append(res.Warnings, fmt.Sprintf("%s: seeded filler media %d", model.CodeEmptyPlaylist, r.opts.FillerMediaID))
	res.MediaCount = 1
	res.Healthy = true
	res.Code = ""
	res.Action = ""
	r.logger.Info().
		Str("screen_id", res.ScreenID).
		Int64("playlist_id", playlistID).
		Int64("media_id", r.opts.FillerMediaID).
		Bool("unconfirmed", seeded.Unconfirmed).
		Msg("seeded filler media into empty playlist")
}

func (r *Reconciler) recordVerify(ctx context.Context, scr *model.Screen, res *Result, mode runMode) {
	if mode != modeReconcile {
		return
	}
	result := model.SyncResultOK
	switch {
	case res.State == model.StateRepairFailed:
		result = model.SyncResultDrifted
	case res.Failed():
		result = model.SyncResultFailed
	case !res.Healthy:
		result = model.SyncResultEmpty
	}
	if err := r.screens.RecordVerify(ctx, scr.ID, model.NormalizeMode(res.ActualSource.Type), result); err != nil {
		r.logger.Warn().Err(err).Str("screen_id", scr.ID).Msg("failed to record verify status")
	}
}

func (r *Reconciler) loadScreen(ctx context.Context, screenID string) (*model.Screen, error) {
	scr, err := r.screens.GetByID(ctx, screenID)
	if err != nil {
		if core.IsNotFound(err) {
			return nil, &Error{Code: model.CodeScreenNotFound, Err: err}
		}
		return nil, &Error{Code: model.CodeStorageError, Err: err}
	}
	return scr, nil
}

func storageCode(err error) model.FailureCode {
	if errors.Is(err, ledger.ErrScreenNotFound) {
		return model.CodeScreenNotFound
	}
	return model.CodeStorageError
}

func driftKind(actual model.ContentSource) string {
	if actual.Type != model.SourcePlaylist {
		return DriftMode
	}
	return DriftPlaylistID
}

package mutator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/edvin/screensync/internal/controlplane"
	"github.com/edvin/screensync/internal/model"
)

// PlaylistAPI is the subset of the control-plane gateway the mutator needs.
type PlaylistAPI interface {
	GetPlaylist(ctx context.Context, id int64) (*controlplane.Playlist, error)
	CreatePlaylist(ctx context.Context, name string, items []controlplane.PlaylistItem, enc controlplane.ItemEncoding) (*controlplane.Playlist, error)
	UpdatePlaylistItems(ctx context.Context, id int64, items []controlplane.PlaylistItem, enc controlplane.ItemEncoding) error
}

// Error is a mutation failure carrying the failure code callers surface.
type Error struct {
	Code model.FailureCode
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Code, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the failure code from err, falling back when err is not a
// mutation error.
func CodeOf(err error, fallback model.FailureCode) model.FailureCode {
	var mErr *Error
	if errors.As(err, &mErr) {
		return mErr.Code
	}
	return fallback
}

// AppendResult reports the outcome of AppendMedia.
type AppendResult struct {
	OK                bool                      `json:"ok"`
	AlreadyExists     bool                      `json:"already_exists"`
	ItemCountAfter    int                       `json:"item_count_after"`
	DuplicatesRemoved int                       `json:"duplicates_removed"`
	Encoding          controlplane.ItemEncoding `json:"encoding,omitempty"`
	Verified          bool                      `json:"verified"`
	Unconfirmed       bool                      `json:"unconfirmed"`
}

// RemoveResult reports the outcome of RemoveMedia.
type RemoveResult struct {
	Removed           bool `json:"removed"`
	ItemCountAfter    int  `json:"item_count_after"`
	DuplicatesRemoved int  `json:"duplicates_removed"`
}

// Mutator edits remote playlists idempotently. The control plane only
// supports replacing the whole items array, and it accepts either reference
// encoding depending on its version; the encoding last acknowledged is tried
// first on the next write.
type Mutator struct {
	api    PlaylistAPI
	logger zerolog.Logger

	mu        sync.Mutex
	preferred controlplane.ItemEncoding
}

// New creates a mutator.
func New(api PlaylistAPI, logger zerolog.Logger) *Mutator {
	return &Mutator{
		api:       api,
		logger:    logger.With().Str("component", "mutator").Logger(),
		preferred: controlplane.EncodingObject,
	}
}

// AppendMedia adds mediaID to the playlist unless it is already present.
func (m *Mutator) AppendMedia(ctx context.Context, playlistID, mediaID int64, duration int) (*AppendResult, error) {
	const op = "append media"

	p, err := m.api.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, readError(op, err)
	}

	if ContainsMedia(p.Items, mediaID) {
		return &AppendResult{OK: true, AlreadyExists: true, ItemCountAfter: len(p.Items), Verified: true}, nil
	}

	items := make([]controlplane.PlaylistItem, 0, len(p.Items)+1)
	items = append(items, p.Items...)
	items = append(items, controlplane.PlaylistItem{
		Type:     model.ItemMedia,
		Item:     controlplane.Ref{ID: mediaID},
		Duration: duration,
	})
	items, removed := dedupe(items)

	enc, err := m.replace(ctx, op, playlistID, items)
	if err != nil {
		return nil, err
	}

	res := &AppendResult{
		OK:                true,
		ItemCountAfter:    len(items),
		DuplicatesRemoved: removed,
		Encoding:          enc,
	}

	back, err := m.api.GetPlaylist(ctx, playlistID)
	switch {
	case err != nil:
		m.logger.Warn().Err(err).Int64("playlist_id", playlistID).Msg("read-back after append failed")
		res.Unconfirmed = true
	case len(back.Items) == 0 || !ContainsMedia(back.Items, mediaID):
		m.logger.Warn().
			Int64("playlist_id", playlistID).
			Int64("media_id", mediaID).
			Int("read_back_items", len(back.Items)).
			Msg("acknowledged write not visible on read-back")
		res.Unconfirmed = true
	default:
		res.Verified = true
		res.ItemCountAfter = len(back.Items)
	}

	m.logger.Info().
		Int64("playlist_id", playlistID).
		Int64("media_id", mediaID).
		Str("encoding", string(enc)).
		Int("items", res.ItemCountAfter).
		Int("duplicates_removed", removed).
		Bool("verified", res.Verified).
		Msg("media appended")
	return res, nil
}

// RemoveMedia removes every occurrence of mediaID. Removing an absent media
// is a no-op.
func (m *Mutator) RemoveMedia(ctx context.Context, playlistID, mediaID int64) (*RemoveResult, error) {
	const op = "remove media"

	p, err := m.api.GetPlaylist(ctx, playlistID)
	if err != nil {
		return nil, readError(op, err)
	}
	if !ContainsMedia(p.Items, mediaID) {
		return &RemoveResult{ItemCountAfter: len(p.Items)}, nil
	}

	kept := make([]controlplane.PlaylistItem, 0, len(p.Items))
	for _, it := range p.Items {
		if it.MediaID() == mediaID {
			continue
		}
		kept = append(kept, it)
	}
	kept, removed := dedupe(kept)

	if _, err := m.replace(ctx, op, playlistID, kept); err != nil {
		return nil, err
	}
	return &RemoveResult{Removed: true, ItemCountAfter: len(kept), DuplicatesRemoved: removed}, nil
}

// Dedupe collapses duplicate media items, writing only when duplicates exist.
// It returns the number of items removed.
func (m *Mutator) Dedupe(ctx context.Context, playlistID int64) (int, error) {
	const op = "dedupe playlist"

	p, err := m.api.GetPlaylist(ctx, playlistID)
	if err != nil {
		return 0, readError(op, err)
	}
	items, removed := dedupe(p.Items)
	if removed == 0 {
		return 0, nil
	}
	if _, err := m.replace(ctx, op, playlistID, items); err != nil {
		return 0, err
	}
	m.logger.Info().Int64("playlist_id", playlistID).Int("removed", removed).Msg("playlist deduplicated")
	return removed, nil
}

// ClonePlaylist copies the full item set of templateID into a new playlist.
func (m *Mutator) ClonePlaylist(ctx context.Context, templateID int64, name string) (*controlplane.Playlist, error) {
	const op = "clone playlist"

	tpl, err := m.api.GetPlaylist(ctx, templateID)
	if err != nil {
		if controlplane.IsNotFound(err) {
			return nil, &Error{Code: model.CodeProvisionFailed, Op: op, Err: err}
		}
		return nil, readError(op, err)
	}
	items, _ := dedupe(tpl.Items)

	var lastErr error
	for _, enc := range m.encodingOrder() {
		created, err := m.api.CreatePlaylist(ctx, name, items, enc)
		if err == nil {
			m.acknowledge(enc)
			if len(created.Items) == 0 && len(items) > 0 {
				created.Items = items
			}
			m.logger.Info().
				Int64("template_id", templateID).
				Int64("playlist_id", created.ID).
				Int("items", len(items)).
				Msg("playlist cloned from template")
			return created, nil
		}
		if !isFormatRejection(err) {
			return nil, &Error{Code: model.CodeProvisionFailed, Op: op, Err: err}
		}
		encodingRejections.WithLabelValues(string(enc)).Inc()
		lastErr = err
	}
	return nil, &Error{Code: model.CodeUnknownItemFormat, Op: op, Err: lastErr}
}

// replace submits the full items array, walking the encodings until one is
// accepted.
func (m *Mutator) replace(ctx context.Context, op string, playlistID int64, items []controlplane.PlaylistItem) (controlplane.ItemEncoding, error) {
	if n := countUnreadable(items); n > 0 {
		m.logger.Warn().
			Int64("playlist_id", playlistID).
			Int("unreadable_items", n).
			Msg("keeping items with unreadable references as received")
	}

	var lastErr error
	for _, enc := range m.encodingOrder() {
		err := m.api.UpdatePlaylistItems(ctx, playlistID, items, enc)
		if err == nil {
			m.acknowledge(enc)
			return enc, nil
		}
		if !isFormatRejection(err) {
			return "", &Error{Code: model.CodePlaylistUpdateFailed, Op: op, Err: err}
		}
		m.logger.Warn().
			Err(err).
			Int64("playlist_id", playlistID).
			Str("encoding", string(enc)).
			Msg("playlist write rejected, trying next encoding")
		encodingRejections.WithLabelValues(string(enc)).Inc()
		lastErr = err
	}
	return "", &Error{Code: model.CodeUnknownItemFormat, Op: op, Err: lastErr}
}

func (m *Mutator) encodingOrder() []controlplane.ItemEncoding {
	m.mu.Lock()
	first := m.preferred
	m.mu.Unlock()

	order := []controlplane.ItemEncoding{first}
	for _, enc := range controlplane.Encodings {
		if enc != first {
			order = append(order, enc)
		}
	}
	return order
}

func (m *Mutator) acknowledge(enc controlplane.ItemEncoding) {
	m.mu.Lock()
	m.preferred = enc
	m.mu.Unlock()
}

// isFormatRejection reports whether the control plane refused the payload
// itself. A missing playlist is not a format problem.
func isFormatRejection(err error) bool {
	return controlplane.IsClientError(err) && !controlplane.IsNotFound(err)
}

func readError(op string, err error) error {
	if controlplane.IsRetryable(err) {
		return &Error{Code: model.CodeTransportError, Op: op, Err: err}
	}
	return &Error{Code: model.CodePlaylistUpdateFailed, Op: op, Err: err}
}

// ContainsMedia reports whether items reference mediaID, regardless of which
// encoding the items were read in.
func ContainsMedia(items []controlplane.PlaylistItem, mediaID int64) bool {
	for _, it := range items {
		if it.MediaID() == mediaID {
			return true
		}
	}
	return false
}

// MediaIDs returns the media ids referenced by items in order.
func MediaIDs(items []controlplane.PlaylistItem) []int64 {
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		if id := it.MediaID(); id > 0 {
			ids = append(ids, id)
		}
	}
	return ids
}

func countUnreadable(items []controlplane.PlaylistItem) int {
	n := 0
	for _, it := range items {
		if it.Unreadable() {
			n++
		}
	}
	return n
}

// dedupe drops repeated media items, keeping the first occurrence. Non-media
// items are kept as-is.
func dedupe(items []controlplane.PlaylistItem) ([]controlplane.PlaylistItem, int) {
	seen := make(map[int64]bool, len(items))
	out := make([]controlplane.PlaylistItem, 0, len(items))
	removed := 0
	for _, it := range items {
		if id := it.MediaID(); id > 0 {
			if seen[id] {
				removed++
				continue
			}
			seen[id] = true
		}
		out = append(out, it)
	}
	return out, removed
}

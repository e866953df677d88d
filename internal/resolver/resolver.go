package resolver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/edvin/screensync/internal/controlplane"
	"github.com/edvin/screensync/internal/model"
)

// ContentAPI is the subset of the control-plane gateway the resolver reads.
type ContentAPI interface {
	GetPlaylist(ctx context.Context, id int64) (*controlplane.Playlist, error)
	GetLayout(ctx context.Context, id int64) (*controlplane.Layout, error)
	GetSchedule(ctx context.Context, id int64) (*controlplane.Schedule, error)
	GetTagPlaylist(ctx context.Context, id int64) (*controlplane.TagPlaylist, error)
	ListWorkspaceMedia(ctx context.Context, workspaceID int64) ([]controlplane.Media, error)
}

// Result is the flattened content of a source.
type Result struct {
	MediaIDs            []int64 `json:"media_ids"`
	WidgetCount         int     `json:"widget_count"`
	TotalItems          int     `json:"total_items"`
	NestedPlaylistCount int     `json:"nested_playlist_count"`
	NestedLayoutCount   int     `json:"nested_layout_count"`
	SkippedCount        int     `json:"skipped_count"`
}

// HasMedia reports whether at least one leaf media item was found.
func (r *Result) HasMedia() bool {
	return len(r.MediaIDs) > 0
}

// Resolver flattens a content graph into its leaf media items.
type Resolver struct {
	api    ContentAPI
	logger zerolog.Logger
}

// New creates a resolver.
func New(api ContentAPI, logger zerolog.Logger) *Resolver {
	return &Resolver{
		api:    api,
		logger: logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve walks the graph rooted at (sourceType, sourceID). Every call owns
// its own visited sets, so concurrent calls never share traversal state.
// A reference to a node already on the walk contributes nothing, which makes
// a cyclic graph resolve exactly like the graph without its back-edge.
func (r *Resolver) Resolve(ctx context.Context, sourceType string, sourceID int64) (*Result, error) {
	rn := newRun(r.api, r.logger.With().Str("root_type", sourceType).Int64("root_id", sourceID).Logger())

	switch sourceType {
	case model.SourcePlaylist:
		if err := rn.playlist(ctx, sourceID, true); err != nil {
			return nil, err
		}
	case model.SourceLayout:
		if err := rn.layout(ctx, sourceID, true); err != nil {
			return nil, err
		}
	case model.SourceSchedule:
		if err := rn.schedule(ctx, sourceID); err != nil {
			return nil, err
		}
	case model.SourceTagPlaylist:
		if err := rn.tagPlaylist(ctx, sourceID, true); err != nil {
			return nil, err
		}
	default:
		rn.logger.Warn().Str("source_type", sourceType).Msg("unknown source type, nothing to resolve")
		rn.res.SkippedCount++
	}

	return rn.result(), nil
}

// ResolveSource is a convenience wrapper over Resolve for a model source.
func (r *Resolver) ResolveSource(ctx context.Context, src model.ContentSource) (*Result, error) {
	return r.Resolve(ctx, src.Type, src.ID)
}

// ResolveScreen resolves whatever the device is currently showing.
func (r *Resolver) ResolveScreen(ctx context.Context, screen *controlplane.Screen) (*Result, error) {
	return r.ResolveSource(ctx, screen.Source())
}

// run holds the state of a single resolution.
type run struct {
	api    ContentAPI
	logger zerolog.Logger

	visitedPlaylists map[int64]bool
	visitedLayouts   map[int64]bool
	visitedTags      map[int64]bool

	workspaces map[int64][]controlplane.Media

	res      Result
	seenLeaf map[int64]bool
}

func newRun(api ContentAPI, logger zerolog.Logger) *run {
	return &run{
		api:              api,
		logger:           logger,
		visitedPlaylists: map[int64]bool{},
		visitedLayouts:   map[int64]bool{},
		visitedTags:      map[int64]bool{},
		workspaces:       map[int64][]controlplane.Media{},
		seenLeaf:         map[int64]bool{},
	}
}

func (rn *run) result() *Result {
	out := rn.res
	if out.MediaIDs == nil {
		out.MediaIDs = []int64{}
	}
	return &out
}

func (rn *run) emit(mediaID int64) {
	if mediaID <= 0 || rn.seenLeaf[mediaID] {
		return
	}
	rn.seenLeaf[mediaID] = true
	rn.res.MediaIDs = append(rn.res.MediaIDs, mediaID)
}

// skipMissing turns a 404 on a nested node into a logged skip. The root node
// of a resolution is never skipped.
func (rn *run) skipMissing(err error, kind string, id int64, root bool) error {
	if !root && controlplane.IsNotFound(err) {
		rn.logger.Warn().Str("kind", kind).Int64("id", id).Msg("nested node not found, skipping")
		rn.res.SkippedCount++
		return nil
	}
	return fmt.Errorf("fetch %s %d: %w", kind, id, err)
}

func (rn *run) playlist(ctx context.Context, id int64, root bool) error {
	if rn.visitedPlaylists[id] {
		rn.logger.Debug().Int64("playlist_id", id).Msg("playlist already visited")
		return nil
	}
	rn.visitedPlaylists[id] = true

	p, err := rn.api.GetPlaylist(ctx, id)
	if err != nil {
		return rn.skipMissing(err, "playlist", id, root)
	}

	for _, it := range p.Items {
		if err := rn.item(ctx, it.Type, it.Item, "playlist", id); err != nil {
			return err
		}
	}
	return nil
}

func (rn *run) layout(ctx context.Context, id int64, root bool) error {
	if rn.visitedLayouts[id] {
		rn.logger.Debug().Int64("layout_id", id).Msg("layout already visited")
		return nil
	}
	rn.visitedLayouts[id] = true

	l, err := rn.api.GetLayout(ctx, id)
	if err != nil {
		return rn.skipMissing(err, "layout", id, root)
	}

	for _, region := range l.Regions {
		if region.Item == nil {
			continue
		}
		if err := rn.item(ctx, region.Item.Type, region.Item.ID, "layout", id); err != nil {
			return err
		}
	}
	if l.BackgroundAudio != nil {
		if err := rn.item(ctx, l.BackgroundAudio.Type, l.BackgroundAudio.ID, "layout", id); err != nil {
			return err
		}
	}
	return nil
}

func (rn *run) schedule(ctx context.Context, id int64) error {
	s, err := rn.api.GetSchedule(ctx, id)
	if err != nil {
		return fmt.Errorf("fetch schedule %d: %w", id, err)
	}

	sources := make([]controlplane.ContentRef, 0, len(s.Events)+1)
	for _, ev := range s.Events {
		sources = append(sources, ev.Source)
	}
	if s.FillerContent != nil {
		sources = append(sources, *s.FillerContent)
	}

	for _, src := range sources {
		if err := rn.source(ctx, src, id); err != nil {
			return err
		}
	}
	return nil
}

// source resolves a schedule event or filler source. Schedules cannot nest.
func (rn *run) source(ctx context.Context, src controlplane.ContentRef, scheduleID int64) error {
	if !src.SourceID.Valid() {
		rn.logger.Warn().Int64("schedule_id", scheduleID).Str("source_type", src.SourceType).Msg("schedule source without id, skipping")
		rn.res.SkippedCount++
		return nil
	}
	switch src.SourceType {
	case model.SourcePlaylist:
		return rn.playlist(ctx, src.SourceID.ID, false)
	case model.SourceLayout:
		return rn.layout(ctx, src.SourceID.ID, false)
	case model.SourceTagPlaylist:
		return rn.tagPlaylist(ctx, src.SourceID.ID, false)
	case model.ItemMedia:
		rn.emit(src.SourceID.ID)
		return nil
	default:
		rn.logger.Warn().Int64("schedule_id", scheduleID).Str("source_type", src.SourceType).Msg("unknown schedule source type, skipping")
		rn.res.SkippedCount++
		return nil
	}
}

// item dispatches one playlist item or layout region item.
func (rn *run) item(ctx context.Context, itemType string, ref controlplane.Ref, parentKind string, parentID int64) error {
	if rn.visited(itemType, ref.ID) {
		return nil
	}
	rn.res.TotalItems++

	if itemType != model.ItemWidget && !ref.Valid() {
		rn.logger.Warn().
			Str("parent", parentKind).
			Int64("parent_id", parentID).
			Str("item_type", itemType).
			Msg("item without usable id, skipping")
		rn.res.SkippedCount++
		return nil
	}

	switch itemType {
	case model.ItemMedia:
		rn.emit(ref.ID)
	case model.ItemWidget:
		rn.res.WidgetCount++
	case model.SourcePlaylist:
		rn.res.NestedPlaylistCount++
		return rn.playlist(ctx, ref.ID, false)
	case model.SourceLayout:
		rn.res.NestedLayoutCount++
		return rn.layout(ctx, ref.ID, false)
	case model.SourceTagPlaylist:
		return rn.tagPlaylist(ctx, ref.ID, false)
	default:
		rn.logger.Warn().
			Str("parent", parentKind).
			Int64("parent_id", parentID).
			Str("item_type", itemType).
			Msg("unknown item type, skipping")
		rn.res.SkippedCount++
	}
	return nil
}

// tagPlaylist expands tag membership: every media in the referenced
// workspaces whose tags intersect the filter, minus the excluded ids.
func (rn *run) tagPlaylist(ctx context.Context, id int64, root bool) error {
	if rn.visitedTags[id] {
		return nil
	}
	rn.visitedTags[id] = true

	tp, err := rn.api.GetTagPlaylist(ctx, id)
	if err != nil {
		return rn.skipMissing(err, "tagbased playlist", id, root)
	}

	want := make(map[string]bool, len(tp.Tags))
	for _, t := range tp.Tags {
		want[t] = true
	}
	excluded := make(map[int64]bool, len(tp.ExcludedMedia))
	for _, ex := range tp.ExcludedMedia {
		excluded[ex.ID] = true
	}

	for _, ws := range tp.Workspaces {
		if !ws.Valid() {
			rn.res.SkippedCount++
			continue
		}
		media, err := rn.workspaceMedia(ctx, ws.ID)
		if err != nil {
			return fmt.Errorf("list media for workspace %d: %w", ws.ID, err)
		}
		for _, m := range media {
			if excluded[m.ID] || !intersects(m.Tags, want) {
				continue
			}
			rn.emit(m.ID)
		}
	}
	return nil
}

// visited reports whether a nested reference points at a node already on
// the walk.
func (rn *run) visited(itemType string, id int64) bool {
	switch itemType {
	case model.SourcePlaylist:
		return rn.visitedPlaylists[id]
	case model.SourceLayout:
		return rn.visitedLayouts[id]
	case model.SourceTagPlaylist:
		return rn.visitedTags[id]
	}
	return false
}

func (rn *run) workspaceMedia(ctx context.Context, workspaceID int64) ([]controlplane.Media, error) {
	if media, ok := rn.workspaces[workspaceID]; ok {
		return media, nil
	}
	media, err := rn.api.ListWorkspaceMedia(ctx, workspaceID)
	if err != nil {
		return nil, err
	}
	rn.workspaces[workspaceID] = media
	return media, nil
}

func intersects(tags []string, want map[string]bool) bool {
	for _, t := range tags {
		if want[t] {
			return true
		}
	}
	return false
}

package model

// Asset status constants. Assets are owned by the upload/normalization
// subsystem; the core only reads them.
const (
	AssetStatusUploaded       = "uploaded"
	AssetStatusNormalizing    = "normalizing"
	AssetStatusReadyForRemote = "ready_for_remote"
	AssetStatusFailed         = "failed"
)

// Screen mode / content source constants. A screen's mode mirrors the source
// type the control plane reports for it.
const (
	SourcePlaylist    = "playlist"
	SourceLayout      = "layout"
	SourceSchedule    = "schedule"
	SourceTagPlaylist = "tagbased-playlist"
	ModeUnknown       = "unknown"
)

// Playlist item kinds. Nested kinds reuse the source constants above.
const (
	ItemMedia  = "media"
	ItemWidget = "widget"
)

// NormalizeMode maps a control-plane source type onto a screen mode.
func NormalizeMode(sourceType string) string {
	switch sourceType {
	case SourcePlaylist, SourceLayout, SourceSchedule:
		return sourceType
	default:
		return ModeUnknown
	}
}

package model

// VerifyPlaylistParams identifies a write whose read-back was not yet
// visible and must be re-checked later.
type VerifyPlaylistParams struct {
	ScreenID      string `json:"screen_id"`
	PlaylistID    int64  `json:"playlist_id"`
	MediaID       int64  `json:"media_id"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

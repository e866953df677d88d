package model

// SyncState is the reconciliation state of a single screen.
type SyncState string

const (
	StateNoDesiredState SyncState = "NO_DESIRED_STATE"
	StateProvisioning   SyncState = "PROVISIONING"
	StateInSync         SyncState = "IN_SYNC"
	StateDrifted        SyncState = "DRIFTED"
	StateRepairing      SyncState = "REPAIRING"
	StateRepairFailed   SyncState = "REPAIR_FAILED"
)

// ContentSource identifies what a screen is currently pointed at.
type ContentSource struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
}

// IsPlaylist reports whether the source is exactly the given playlist.
func (c ContentSource) IsPlaylist(playlistID int64) bool {
	return c.Type == SourcePlaylist && c.ID == playlistID
}

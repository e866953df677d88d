package model

import "time"

// Screen is a physical display. Only the sync-status fields and, through the
// desired-state ledger, PlaylistID are written by the reconciliation core.
type Screen struct {
	ID               string     `json:"id" db:"id"`
	Name             string     `json:"name" db:"name"`
	DeviceID         *int64     `json:"device_id,omitempty" db:"device_id"`
	PlaylistID       *int64     `json:"playlist_id,omitempty" db:"playlist_id"`
	Mode             string     `json:"mode" db:"mode"`
	Active           bool       `json:"active" db:"active"`
	LastPushAt       *time.Time `json:"last_push_at,omitempty" db:"last_push_at"`
	LastPushResult   *string    `json:"last_push_result,omitempty" db:"last_push_result"`
	LastVerifyAt     *time.Time `json:"last_verify_at,omitempty" db:"last_verify_at"`
	LastVerifyResult *string    `json:"last_verify_result,omitempty" db:"last_verify_result"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
}

// Linked reports whether the screen has been paired with a control-plane device.
func (s *Screen) Linked() bool {
	return s.DeviceID != nil && *s.DeviceID > 0
}

// Sync result values written to last_push_result / last_verify_result.
const (
	SyncResultOK          = "ok"
	SyncResultFailed      = "failed"
	SyncResultUnconfirmed = "unconfirmed"
	SyncResultDrifted     = "drifted"
	SyncResultEmpty       = "empty"
)

package model

import "time"

// Asset is an advertiser creative produced by the upload/normalization
// subsystem. RemoteMediaID is set once the file exists in the control plane.
type Asset struct {
	ID              string    `json:"id" db:"id"`
	AdvertiserID    string    `json:"advertiser_id" db:"advertiser_id"`
	Status          string    `json:"status" db:"status"`
	SizeBytes       int64     `json:"size_bytes" db:"size_bytes"`
	RemoteMediaID   *int64    `json:"remote_media_id,omitempty" db:"remote_media_id"`
	DurationSeconds int       `json:"duration_seconds" db:"duration_seconds"`
	Superseded      bool      `json:"superseded" db:"superseded"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// Placement ties an advertiser's active contract to a screen.
type Placement struct {
	ID           string `json:"id" db:"id"`
	AdvertiserID string `json:"advertiser_id" db:"advertiser_id"`
	ContractID   string `json:"contract_id" db:"contract_id"`
	ScreenID     string `json:"screen_id" db:"screen_id"`
}

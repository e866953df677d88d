package core

import (
	"context"
	"fmt"

	"github.com/edvin/screensync/internal/model"
)

// AssetService reads advertiser creatives produced by the upload pipeline.
type AssetService struct {
	db DB
}

func NewAssetService(db DB) *AssetService {
	return &AssetService{db: db}
}

// ListCurrent returns the advertiser's non-superseded assets, largest first
// and most recent first among equal sizes.
func (s *AssetService) ListCurrent(ctx context.Context, advertiserID string) ([]model.Asset, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, advertiser_id, status, size_bytes, remote_media_id, duration_seconds, superseded, created_at
		 FROM ad_assets
		 WHERE advertiser_id = $1 AND NOT superseded
		 ORDER BY size_bytes DESC, created_at DESC`,
		advertiserID,
	)
	if err != nil {
		return nil, fmt.Errorf("list assets for advertiser %s: %w", advertiserID, err)
	}
	defer rows.Close()

	var assets []model.Asset
	for rows.Next() {
		var a model.Asset
		if err := rows.Scan(&a.ID, &a.AdvertiserID, &a.Status, &a.SizeBytes, &a.RemoteMediaID,
			&a.DurationSeconds, &a.Superseded, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan asset: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assets: %w", err)
	}
	return assets, nil
}

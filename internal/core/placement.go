package core

import (
	"context"
	"fmt"
)

// PlacementService reads advertiser placements on screens.
type PlacementService struct {
	db DB
}

func NewPlacementService(db DB) *PlacementService {
	return &PlacementService{db: db}
}

// ActiveScreenIDs returns the screens placed under the advertiser's active
// contracts.
func (s *PlacementService) ActiveScreenIDs(ctx context.Context, advertiserID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT p.screen_id
		 FROM placements p
		 JOIN contracts c ON c.id = p.contract_id
		 WHERE c.advertiser_id = $1
		   AND c.status = 'active'
		   AND c.starts_at <= now()
		   AND (c.ends_at IS NULL OR c.ends_at > now())
		 ORDER BY p.screen_id`,
		advertiserID,
	)
	if err != nil {
		return nil, fmt.Errorf("list placements for advertiser %s: %w", advertiserID, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan placement: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate placements: %w", err)
	}
	return ids, nil
}

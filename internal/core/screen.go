package core

import (
	"context"
	"fmt"

	"github.com/edvin/screensync/internal/model"
)

const screenColumns = `id, name, device_id, playlist_id, mode, active,
	last_push_at, last_push_result, last_verify_at, last_verify_result,
	created_at, updated_at`

// ScreenService reads screens and writes their sync-status fields. The
// screens table is owned by the admin backend; rows are never created or
// deleted here.
type ScreenService struct {
	db DB
}

func NewScreenService(db DB) *ScreenService {
	return &ScreenService{db: db}
}

func (s *ScreenService) GetByID(ctx context.Context, id string) (*model.Screen, error) {
	scr, err := scanScreen(s.db.QueryRow(ctx,
		`SELECT `+screenColumns+` FROM screens WHERE id = $1`, id,
	))
	if err != nil {
		return nil, fmt.Errorf("get screen %s: %w", id, err)
	}
	return &scr, nil
}

// ListSyncCandidates returns every active screen that is linked to a device.
func (s *ScreenService) ListSyncCandidates(ctx context.Context) ([]model.Screen, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+screenColumns+` FROM screens
		 WHERE active AND device_id IS NOT NULL AND device_id > 0
		 ORDER BY id`,
	)
	if err != nil {
		return nil, fmt.Errorf("list sync candidates: %w", err)
	}
	defer rows.Close()

	var screens []model.Screen
	for rows.Next() {
		scr, err := scanScreen(rows)
		if err != nil {
			return nil, fmt.Errorf("scan screen: %w", err)
		}
		screens = append(screens, scr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate screens: %w", err)
	}
	return screens, nil
}

// RecordVerify stores the observed mode and the result of a verification.
func (s *ScreenService) RecordVerify(ctx context.Context, id, mode, result string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE screens SET mode = $1, last_verify_at = now(), last_verify_result = $2, updated_at = now()
		 WHERE id = $3`,
		mode, result, id,
	)
	if err != nil {
		return fmt.Errorf("record verify for screen %s: %w", id, err)
	}
	return nil
}

// RecordPush stores the result of a push to the device.
func (s *ScreenService) RecordPush(ctx context.Context, id, result string) error {
	_, err := s.db.Exec(ctx,
		`UPDATE screens SET last_push_at = now(), last_push_result = $1, updated_at = now()
		 WHERE id = $2`,
		result, id,
	)
	if err != nil {
		return fmt.Errorf("record push for screen %s: %w", id, err)
	}
	return nil
}

func scanScreen(row interface{ Scan(dest ...any) error }) (model.Screen, error) {
	var scr model.Screen
	err := row.Scan(
		&scr.ID, &scr.Name, &scr.DeviceID, &scr.PlaylistID, &scr.Mode, &scr.Active,
		&scr.LastPushAt, &scr.LastPushResult, &scr.LastVerifyAt, &scr.LastVerifyResult,
		&scr.CreatedAt, &scr.UpdatedAt,
	)
	return scr, err
}

// Package ledger records which playlist each screen is supposed to show.
// The single source of truth is screens.playlist_id.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

// ErrScreenNotFound is returned when the screen row does not exist.
var ErrScreenNotFound = errors.New("screen not found")

// DB defines the database operations used by the ledger.
// *pgxpool.Pool satisfies this interface.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Ledger reads and writes the desired playlist assignment per screen.
// Writes are last-write-wins; callers serialize per screen.
type Ledger struct {
	db     DB
	logger zerolog.Logger
}

// New creates a ledger.
func New(db DB, logger zerolog.Logger) *Ledger {
	return &Ledger{db: db, logger: logger.With().Str("component", "ledger").Logger()}
}

// GetExpected returns the playlist the screen should show, or nil when no
// desired state has been recorded yet.
func (l *Ledger) GetExpected(ctx context.Context, screenID string) (*int64, error) {
	var playlistID *int64
	err := l.db.QueryRow(ctx, "SELECT playlist_id FROM screens WHERE id = $1", screenID).Scan(&playlistID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("get expected playlist for screen %s: %w", screenID, ErrScreenNotFound)
		}
		return nil, fmt.Errorf("get expected playlist for screen %s: %w", screenID, err)
	}
	if playlistID != nil && *playlistID <= 0 {
		return nil, nil
	}
	return playlistID, nil
}

// SetExpected records the playlist the screen should show.
func (l *Ledger) SetExpected(ctx context.Context, screenID string, playlistID int64) error {
	if playlistID <= 0 {
		return fmt.Errorf("set expected playlist for screen %s: invalid playlist id %d", screenID, playlistID)
	}
	tag, err := l.db.Exec(ctx,
		"UPDATE screens SET playlist_id = $1, updated_at = now() WHERE id = $2",
		playlistID, screenID,
	)
	if err != nil {
		return fmt.Errorf("set expected playlist for screen %s: %w", screenID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("set expected playlist for screen %s: %w", screenID, ErrScreenNotFound)
	}
	return nil
}

// Adopt records a playlist discovered live on the device as the desired
// state. Used when the ledger is empty but the device already shows a
// playlist.
func (l *Ledger) Adopt(ctx context.Context, screenID string, playlistID int64) error {
	if err := l.SetExpected(ctx, screenID, playlistID); err != nil {
		return err
	}
	l.logger.Info().
		Str("screen_id", screenID).
		Int64("playlist_id", playlistID).
		Msg("adopted live playlist as desired state")
	return nil
}

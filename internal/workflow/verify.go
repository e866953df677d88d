package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/screensync/internal/activity"
	"github.com/edvin/screensync/internal/model"
)

const (
	verifyAttempts = 3
	verifyInterval = time.Minute
)

// VerifyPlaylistWorkflow re-reads a playlist whose write was acknowledged
// but not yet visible. It is started with a delay by the publish pipeline
// and gives the control plane a few more chances before marking the push
// failed.
func VerifyPlaylistWorkflow(ctx workflow.Context, params model.VerifyPlaylistParams) error {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			MaximumAttempts:    3,
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
		},
	})
	logger := workflow.GetLogger(ctx)

	for attempt := 1; attempt <= verifyAttempts; attempt++ {
		var res activity.VerifyResult
		if err := workflow.ExecuteActivity(ctx, "VerifyPlaylist", params).Get(ctx, &res); err != nil {
			return fmt.Errorf("verify playlist %d for screen %s: %w", params.PlaylistID, params.ScreenID, err)
		}
		if res.Confirmed {
			logger.Info("deferred verification confirmed",
				"screen", params.ScreenID, "playlist", params.PlaylistID, "attempt", attempt)
			return nil
		}
		if !res.Empty {
			return fmt.Errorf("screen %s: %s", params.ScreenID, res.Message)
		}
		if attempt < verifyAttempts {
			if err := workflow.Sleep(ctx, verifyInterval); err != nil {
				return err
			}
		}
	}

	err := workflow.ExecuteActivity(ctx, "RecordPushResult", activity.RecordPushResultParams{
		ScreenID: params.ScreenID,
		Result:   model.SyncResultFailed,
	}).Get(ctx, nil)
	if err != nil {
		logger.Warn("failed to record push result", "screen", params.ScreenID, "error", err)
	}
	return fmt.Errorf("playlist %d still reads back empty after %d checks", params.PlaylistID, verifyAttempts)
}

package workflow

import (
	"fmt"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/edvin/screensync/internal/reconcile"
)

// ReconciliationSweepWorkflow runs on a cron schedule and reconciles every
// active, device-linked screen once.
func ReconciliationSweepWorkflow(ctx workflow.Context) (*reconcile.SweepResult, error) {
	ctx = workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			// The next scheduled run picks up whatever this one missed.
			MaximumAttempts: 1,
		},
	})

	var res reconcile.SweepResult
	if err := workflow.ExecuteActivity(ctx, "RunReconciliationSweep").Get(ctx, &res); err != nil {
		return nil, fmt.Errorf("run reconciliation sweep: %w", err)
	}
	if res.Failed > 0 {
		workflow.GetLogger(ctx).Warn("reconciliation sweep finished with failures",
			"processed", res.Processed, "ok", res.OK, "failed", res.Failed)
	}
	return &res, nil
}

package core

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/api/enums/v1"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/screensync/internal/model"
)

// TaskQueue is the Temporal task queue served by cmd/worker.
const TaskQueue = "screensync-tasks"

// workflowID builds a human-readable Temporal workflow ID from a prefix and
// the subject's unique ID.
func workflowID(prefix, id string) string {
	return fmt.Sprintf("%s-%s", prefix, id)
}

// Scheduler starts the Temporal workflows that run outside a request:
// deferred re-verification and on-demand sweeps.
type Scheduler struct {
	tc    temporalclient.Client
	delay time.Duration
}

func NewScheduler(tc temporalclient.Client, delay time.Duration) *Scheduler {
	return &Scheduler{tc: tc, delay: delay}
}

// ScheduleReverify starts VerifyPlaylistWorkflow after the configured delay.
// A pending re-verification for the same screen and media is reused.
func (s *Scheduler) ScheduleReverify(ctx context.Context, params model.VerifyPlaylistParams) error {
	id := workflowID("verify-playlist", fmt.Sprintf("%s-%d", params.ScreenID, params.MediaID))
	_, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:                       id,
		TaskQueue:                TaskQueue,
		StartDelay:               s.delay,
		WorkflowIDConflictPolicy: enums.WORKFLOW_ID_CONFLICT_POLICY_USE_EXISTING,
	}, "VerifyPlaylistWorkflow", params)
	if err != nil {
		return fmt.Errorf("start VerifyPlaylistWorkflow for screen %s: %w", params.ScreenID, err)
	}
	return nil
}

// StartSweep runs the reconciliation sweep workflow out of band.
func (s *Scheduler) StartSweep(ctx context.Context) (string, error) {
	id := workflowID("reconcile-sweep", time.Now().UTC().Format("20060102T150405"))
	run, err := s.tc.ExecuteWorkflow(ctx, temporalclient.StartWorkflowOptions{
		ID:        id,
		TaskQueue: TaskQueue,
	}, "ReconciliationSweepWorkflow")
	if err != nil {
		return "", fmt.Errorf("start ReconciliationSweepWorkflow: %w", err)
	}
	return run.GetID(), nil
}

package reconcile

import (
	"context"
	"fmt"
	"time"
)

// SweepError records one screen that failed during a sweep.
type SweepError struct {
	ScreenID string `json:"screen_id"`
	Code     string `json:"code"`
	Message  string `json:"message,omitempty"`
}

// SweepResult summarizes a reconciliation sweep.
type SweepResult struct {
	Processed int          `json:"processed"`
	OK        int          `json:"ok"`
	Failed    int          `json:"failed"`
	Errors    []SweepError `json:"errors"`
}

// RunReconciliationSweep reconciles every active, device-linked screen in
// turn. A failing screen is recorded and the sweep moves on.
func (r *Reconciler) RunReconciliationSweep(ctx context.Context) (*SweepResult, error) {
	start := time.Now()
	screens, err := r.screens.ListSyncCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("list screens for sweep: %w", err)
	}

	out := &SweepResult{Errors: []SweepError{}}
	for _, scr := range screens {
		if err := ctx.Err(); err != nil {
			r.logger.Warn().Int("processed", out.Processed).Int("total", len(screens)).Msg("sweep interrupted")
			return out, fmt.Errorf("sweep interrupted: %w", err)
		}

		res := r.ReconcileScreen(ctx, scr.ID)
		out.Processed++
		if res.Failed() {
			out.Failed++
			out.Errors = append(out.Errors, SweepError{ScreenID: scr.ID, Code: string(res.Code), Message: res.Message})
			sweepScreens.WithLabelValues("failed").Inc()
			continue
		}
		out.OK++
		sweepScreens.WithLabelValues("ok").Inc()
	}

	r.logger.Info().
		Int("processed", out.Processed).
		Int("ok", out.OK).
		Int("failed", out.Failed).
		Dur("duration", time.Since(start)).
		Msg("reconciliation sweep completed")
	return out, nil
}

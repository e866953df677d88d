package model

import "time"

// Trace outcomes.
const (
	OutcomeSuccess   = "SUCCESS"
	OutcomePartial   = "PARTIAL"
	OutcomeFailed    = "FAILED"
	OutcomeNoTargets = "NO_TARGETS"
)

// Step outcomes.
const (
	StepOK      = "ok"
	StepFailed  = "failed"
	StepWarning = "warning"
	StepSkipped = "skipped"
)

// Trace operations.
const (
	OperationPublish       = "publish"
	OperationPublishDryRun = "publish_dry_run"
	OperationReconcile     = "reconcile"
)

// Trace is the step-by-step record of one publish or reconcile invocation.
type Trace struct {
	CorrelationID  string        `json:"correlation_id"`
	Operation      string        `json:"operation"`
	Subject        string        `json:"subject"`
	DryRun         bool          `json:"dry_run"`
	Outcome        string        `json:"outcome"`
	Code           FailureCode   `json:"code,omitempty"`
	Recommendation Action        `json:"recommendation,omitempty"`
	Message        string        `json:"message,omitempty"`
	Steps          []TraceStep   `json:"steps"`
	Targets        []TargetTrace `json:"targets,omitempty"`
	StartedAt      time.Time     `json:"started_at"`
	FinishedAt     time.Time     `json:"finished_at"`
}

// TraceStep is one recorded stage.
type TraceStep struct {
	Name       string         `json:"name"`
	Outcome    string         `json:"outcome"`
	DurationMS int64          `json:"duration_ms"`
	Details    map[string]any `json:"details,omitempty"`
	Error      string         `json:"error,omitempty"`
	Code       FailureCode    `json:"code,omitempty"`
}

// TargetTrace groups the steps executed for a single target screen.
type TargetTrace struct {
	ScreenID       string      `json:"screen_id"`
	Outcome        string      `json:"outcome"`
	Code           FailureCode `json:"code,omitempty"`
	Recommendation Action      `json:"recommendation,omitempty"`
	Steps          []TraceStep `json:"steps"`
}

// Failed reports whether the target group ended in failure.
func (t *TargetTrace) Failed() bool {
	return t.Outcome == StepFailed
}

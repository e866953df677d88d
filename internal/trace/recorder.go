// Package trace records the step-by-step history of a publish or reconcile
// invocation into a model.Trace.
package trace

import (
	"sync"
	"time"

	"github.com/edvin/screensync/internal/model"
	"github.com/edvin/screensync/internal/platform"
)

// Recorder accumulates steps for one invocation. Finish seals it; the
// returned trace is never touched again.
type Recorder struct {
	mu      sync.Mutex
	now     func() time.Time
	trace   model.Trace
	targets []*Target
	sealed  bool
}

// New starts a trace with a fresh correlation id.
func New(operation, subject string, dryRun bool) *Recorder {
	return newWithClock(operation, subject, dryRun, time.Now)
}

func newWithClock(operation, subject string, dryRun bool, now func() time.Time) *Recorder {
	return &Recorder{
		now: now,
		trace: model.Trace{
			CorrelationID: platform.NewID(),
			Operation:     operation,
			Subject:       subject,
			DryRun:        dryRun,
			Steps:         []model.TraceStep{},
			StartedAt:     now().UTC(),
		},
	}
}

// CorrelationID returns the id of the trace being recorded.
func (r *Recorder) CorrelationID() string {
	return r.trace.CorrelationID
}

// Step begins a top-level step.
func (r *Recorder) Step(name string) *Step {
	return &Step{name: name, start: r.now(), now: r.now, commit: r.appendStep}
}

// Target begins a per-target step group.
func (r *Recorder) Target(screenID string) *Target {
	t := &Target{rec: r, group: model.TargetTrace{ScreenID: screenID, Outcome: model.StepOK, Steps: []model.TraceStep{}}}
	r.mu.Lock()
	r.targets = append(r.targets, t)
	r.mu.Unlock()
	return t
}

func (r *Recorder) appendStep(s model.TraceStep) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return
	}
	r.trace.Steps = append(r.trace.Steps, s)
}

// Finish seals the trace with its final outcome. A non-empty code gets its
// recommended action attached.
func (r *Recorder) Finish(outcome string, code model.FailureCode, message string) *model.Trace {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.sealed {
		r.sealed = true
		r.trace.Outcome = outcome
		r.trace.Code = code
		r.trace.Message = message
		if code != "" {
			r.trace.Recommendation = model.ActionFor(code)
		}
		for _, t := range r.targets {
			r.trace.Targets = append(r.trace.Targets, t.snapshot())
		}
		r.trace.FinishedAt = r.now().UTC()
	}

	out := r.trace
	out.Steps = append([]model.TraceStep(nil), r.trace.Steps...)
	out.Targets = append([]model.TargetTrace(nil), r.trace.Targets...)
	return &out
}

// Target records the sub-steps executed for one screen.
type Target struct {
	rec   *Recorder
	mu    sync.Mutex
	group model.TargetTrace
}

// Step begins a sub-step for this target.
func (t *Target) Step(name string) *Step {
	return &Step{name: name, start: t.rec.now(), now: t.rec.now, commit: t.appendStep}
}

func (t *Target) appendStep(s model.TraceStep) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.group.Steps = append(t.group.Steps, s)
}

// Fail marks the target as failed with a code.
func (t *Target) Fail(code model.FailureCode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.group.Outcome = model.StepFailed
	t.group.Code = code
	t.group.Recommendation = model.ActionFor(code)
}

// Warn marks the target as completed with a warning unless it already failed.
func (t *Target) Warn(code model.FailureCode) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.group.Outcome == model.StepFailed {
		return
	}
	t.group.Outcome = model.StepWarning
	t.group.Code = code
	t.group.Recommendation = model.ActionFor(code)
}

// Failed reports whether Fail was called.
func (t *Target) Failed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.group.Failed()
}

// Code returns the failure code of the target, if any.
func (t *Target) Code() model.FailureCode {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.group.Code
}

func (t *Target) snapshot() model.TargetTrace {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.group
	out.Steps = append([]model.TraceStep(nil), t.group.Steps...)
	return out
}

// Step is an in-progress step. Exactly one of OK, Fail, Warn or Skip ends it;
// later calls are ignored.
type Step struct {
	name    string
	start   time.Time
	now     func() time.Time
	details map[string]any
	commit  func(model.TraceStep)
	done    bool
}

// Detail attaches a key/value to the step.
func (s *Step) Detail(key string, value any) *Step {
	if s.details == nil {
		s.details = map[string]any{}
	}
	s.details[key] = value
	return s
}

// OK ends the step successfully.
func (s *Step) OK() {
	s.end(model.StepOK, "", nil)
}

// Fail ends the step with a failure code and error.
func (s *Step) Fail(code model.FailureCode, err error) {
	s.end(model.StepFailed, code, err)
}

// Warn ends the step with a non-fatal code.
func (s *Step) Warn(code model.FailureCode, err error) {
	s.end(model.StepWarning, code, err)
}

// Skip ends the step as not executed.
func (s *Step) Skip(reason string) {
	s.Detail("reason", reason)
	s.end(model.StepSkipped, "", nil)
}

func (s *Step) end(outcome string, code model.FailureCode, err error) {
	if s.done {
		return
	}
	s.done = true
	ts := model.TraceStep{
		Name:       s.name,
		Outcome:    outcome,
		DurationMS: s.now().Sub(s.start).Milliseconds(),
		Details:    s.details,
		Code:       code,
	}
	if err != nil {
		ts.Error = err.Error()
	}
	s.commit(ts)
}

package workflow

import (
	"context"
	"errors"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/interceptor"
	"go.temporal.io/sdk/temporal"

	"github.com/edvin/screensync/internal/mutator"
	"github.com/edvin/screensync/internal/reconcile"
)

// ErrorTypingInterceptor types failed activity errors so the Temporal UI
// shows something better than "ApplicationError": the failure code when the
// error carries one, otherwise the activity name.
type ErrorTypingInterceptor struct {
	interceptor.WorkerInterceptorBase
}

func (e *ErrorTypingInterceptor) InterceptActivity(
	ctx context.Context,
	next interceptor.ActivityInboundInterceptor,
) interceptor.ActivityInboundInterceptor {
	return &errorTypingActivityInterceptor{next: next}
}

type errorTypingActivityInterceptor struct {
	interceptor.ActivityInboundInterceptorBase
	next interceptor.ActivityInboundInterceptor
}

func (e *errorTypingActivityInterceptor) Init(outbound interceptor.ActivityOutboundInterceptor) error {
	return e.next.Init(outbound)
}

func (e *errorTypingActivityInterceptor) ExecuteActivity(
	ctx context.Context,
	in *interceptor.ExecuteActivityInput,
) (interface{}, error) {
	result, err := e.next.ExecuteActivity(ctx, in)
	if err == nil {
		return result, nil
	}

	var appErr *temporal.ApplicationError
	if errors.As(err, &appErr) && appErr.Type() != "" {
		return result, err
	}
	return result, temporal.NewApplicationError(err.Error(), errorType(ctx, err), err)
}

func errorType(ctx context.Context, err error) string {
	var mErr *mutator.Error
	if errors.As(err, &mErr) {
		return string(mErr.Code)
	}
	var rErr *reconcile.Error
	if errors.As(err, &rErr) {
		return string(rErr.Code)
	}
	return activity.GetInfo(ctx).ActivityType.Name
}

package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/edvin/screensync/internal/model"
	"github.com/edvin/screensync/internal/reconcile"
)

type mockScreenSync struct {
	mock.Mock
}

func (m *mockScreenSync) EnsureScreenPlaylist(ctx context.Context, screenID string) (*reconcile.EnsureResult, error) {
	args := m.Called(ctx, screenID)
	res, _ := args.Get(0).(*reconcile.EnsureResult)
	return res, args.Error(1)
}

func (m *mockScreenSync) ReconcileScreen(ctx context.Context, screenID string) *reconcile.Result {
	return m.Called(ctx, screenID).Get(0).(*reconcile.Result)
}

func (m *mockScreenSync) CheckScreen(ctx context.Context, screenID string) *reconcile.Result {
	return m.Called(ctx, screenID).Get(0).(*reconcile.Result)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) PublishNow(ctx context.Context, advertiserID string, targets []string) *model.Trace {
	return m.Called(ctx, advertiserID, targets).Get(0).(*model.Trace)
}

func (m *mockPublisher) PublishDryRun(ctx context.Context, advertiserID string, targets []string) *model.Trace {
	return m.Called(ctx, advertiserID, targets).Get(0).(*model.Trace)
}

type mockSweeper struct {
	mock.Mock
}

func (m *mockSweeper) RunReconciliationSweep(ctx context.Context) (*reconcile.SweepResult, error) {
	args := m.Called(ctx)
	res, _ := args.Get(0).(*reconcile.SweepResult)
	return res, args.Error(1)
}

type mockSweepStarter struct {
	mock.Mock
}

func (m *mockSweepStarter) StartSweep(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

type mockTraceReader struct {
	mock.Mock
}

func (m *mockTraceReader) GetByID(ctx context.Context, id string) (*model.Trace, error) {
	args := m.Called(ctx, id)
	t, _ := args.Get(0).(*model.Trace)
	return t, args.Error(1)
}

func (m *mockTraceReader) ListBySubject(ctx context.Context, subject string, limit int) ([]model.Trace, error) {
	args := m.Called(ctx, subject, limit)
	t, _ := args.Get(0).([]model.Trace)
	return t, args.Error(1)
}

package core

import (
	"time"

	temporalclient "go.temporal.io/sdk/client"
)

type Services struct {
	Screen    *ScreenService
	Asset     *AssetService
	Placement *PlacementService
	Trace     *TraceService
	// Scheduler is nil when no Temporal client is available.
	Scheduler *Scheduler
}

func NewServices(db DB, tc temporalclient.Client, reverifyDelay time.Duration) *Services {
	s := &Services{
		Screen:    NewScreenService(db),
		Asset:     NewAssetService(db),
		Placement: NewPlacementService(db),
		Trace:     NewTraceService(db),
	}
	if tc != nil {
		s.Scheduler = NewScheduler(tc, reverifyDelay)
	}
	return s
}

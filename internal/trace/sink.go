package trace

import (
	"context"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/edvin/screensync/internal/model"
)

// Store persists a finished trace.
type Store interface {
	Save(ctx context.Context, t *model.Trace) error
}

// Sink fans a finished trace out to every configured store. Store failures
// are logged and never reach the caller.
type Sink struct {
	stores []Store
	logger zerolog.Logger
}

// NewSink creates a sink over the given stores. Nil stores are ignored.
func NewSink(logger zerolog.Logger, stores ...Store) *Sink {
	s := &Sink{logger: logger.With().Str("component", "trace-sink").Logger()}
	for _, st := range stores {
		if st != nil {
			s.stores = append(s.stores, st)
		}
	}
	return s
}

// Record saves t to all stores concurrently.
func (s *Sink) Record(ctx context.Context, t *model.Trace) {
	if s == nil || t == nil || len(s.stores) == 0 {
		return
	}

	var g errgroup.Group
	for _, st := range s.stores {
		g.Go(func() error {
			if err := st.Save(ctx, t); err != nil {
				s.logger.Error().
					Err(err).
					Str("correlation_id", t.CorrelationID).
					Str("operation", t.Operation).
					Msg("failed to save trace")
				return err
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		sinkFailures.Inc()
	}
}

// Package engine wires the reconciliation core from configuration. Both the
// API server and the worker build one Engine and serve its operations.
package engine

import (
	"fmt"

	"github.com/rs/zerolog"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/edvin/screensync/internal/activity"
	"github.com/edvin/screensync/internal/archive"
	"github.com/edvin/screensync/internal/config"
	"github.com/edvin/screensync/internal/controlplane"
	"github.com/edvin/screensync/internal/core"
	"github.com/edvin/screensync/internal/ledger"
	"github.com/edvin/screensync/internal/mutator"
	"github.com/edvin/screensync/internal/publish"
	"github.com/edvin/screensync/internal/reconcile"
	"github.com/edvin/screensync/internal/resolver"
	"github.com/edvin/screensync/internal/trace"
)

type Engine struct {
	API        *controlplane.Client
	Services   *core.Services
	Reconciler *reconcile.Reconciler
	Pipeline   *publish.Pipeline
	Sink       *trace.Sink
	// Sync holds the Temporal activities. The API server also uses it to run
	// inline sweeps so both paths record the same trace.
	Sync *activity.Sync
}

// New builds the engine. tc may be nil, in which case deferred
// re-verification and async sweeps are unavailable.
func New(cfg *config.Config, db core.DB, tc temporalclient.Client, logger zerolog.Logger) (*Engine, error) {
	cpTLS, err := cfg.ControlPlaneTLS()
	if err != nil {
		return nil, fmt.Errorf("configure control plane TLS: %w", err)
	}
	api := controlplane.NewClient(controlplane.Options{
		BaseURL:        cfg.ControlPlaneURL,
		Token:          cfg.ControlPlaneToken,
		MaxConcurrency: cfg.ControlPlaneMaxConcurrency,
		Timeout:        cfg.ControlPlaneTimeout,
		MaxRetries:     cfg.ControlPlaneMaxRetries,
		TLSConfig:      cpTLS,
		Logger:         logger,
	})

	services := core.NewServices(db, tc, cfg.Policy.ReverifyDelay)

	stores := []trace.Store{services.Trace}
	if cfg.TraceArchiveBucket != "" {
		stores = append(stores, archive.NewS3Store(archive.Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.TraceArchiveBucket,
			Prefix:    cfg.TraceArchivePrefix,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		}, logger))
		logger.Info().Str("bucket", cfg.TraceArchiveBucket).Msg("trace archive enabled")
	}
	sink := trace.NewSink(logger, stores...)

	mut := mutator.New(api, logger)
	rec := reconcile.New(reconcile.Deps{
		API:      api,
		Resolver: resolver.New(api, logger),
		Mutator:  mut,
		Ledger:   ledger.New(db, logger),
		Screens:  services.Screen,
	}, reconcile.Options{
		TemplatePlaylistID: cfg.Policy.TemplatePlaylistID,
		FillerMediaID:      cfg.Policy.FillerMediaID,
		FillerDuration:     cfg.Policy.FillerDuration,
	}, logger)

	var reverifier publish.Reverifier
	if services.Scheduler != nil {
		reverifier = services.Scheduler
	}
	pipeline := publish.New(publish.Deps{
		API:        api,
		Assets:     services.Asset,
		Placements: services.Placement,
		Screens:    services.Screen,
		Reconciler: rec,
		Mutator:    mut,
		Reverifier: reverifier,
		Sink:       sink,
	}, publish.Options{
		SettleDelay:     cfg.Policy.PublishSettleDelay,
		DefaultDuration: cfg.Policy.DefaultMediaDuration,
	}, logger)

	return &Engine{
		API:        api,
		Services:   services,
		Reconciler: rec,
		Pipeline:   pipeline,
		Sink:       sink,
		Sync:       activity.NewSync(rec, api, services.Screen, sink),
	}, nil
}

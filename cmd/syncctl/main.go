package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/edvin/screensync/internal/syncctl"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	fs := flag.NewFlagSet(os.Args[1], flag.ExitOnError)
	apiURL := fs.String("api", envOr("SYNCCTL_API", "http://localhost:8090"), "Core API base URL")
	apiKey := fs.String("key", os.Getenv("SYNCCTL_API_KEY"), "API key sent as X-API-Key")
	dryRun := fs.Bool("dry-run", false, "Predict the publish outcome without writing (publish only)")
	async := fs.Bool("async", false, "Start the sweep as a workflow and return (sweep only)")
	file := fs.String("f", "", "Batch file of publishes (publish only)")
	fs.Parse(os.Args[2:])

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cmds := &syncctl.Commands{Client: syncctl.NewClient(*apiURL, *apiKey), Out: os.Stdout}

	var err error
	switch os.Args[1] {
	case "ensure":
		err = cmds.EnsurePlaylist(ctx, requireArg(fs, "ensure <screen-id>"))
	case "reconcile":
		err = cmds.Reconcile(ctx, requireArg(fs, "reconcile <screen-id>"))
	case "check":
		err = cmds.Check(ctx, requireArg(fs, "check <screen-id>"))
	case "publish":
		if *file != "" {
			var b *syncctl.Batch
			if b, err = syncctl.LoadBatch(*file); err == nil {
				err = cmds.PublishBatch(ctx, b, *dryRun)
			}
			break
		}
		advertiserID := requireArg(fs, "publish [-dry-run] <advertiser-id> [screen-id...]")
		err = cmds.Publish(ctx, advertiserID, fs.Args()[1:], *dryRun)
	case "sweep":
		err = cmds.Sweep(ctx, *async)
	case "trace":
		err = cmds.Trace(ctx, requireArg(fs, "trace <correlation-id>"))
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func requireArg(fs *flag.FlagSet, usage string) string {
	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "Usage: syncctl %s\n", usage)
		os.Exit(1)
	}
	return fs.Arg(0)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage:
  syncctl ensure <screen-id>
  syncctl reconcile <screen-id>
  syncctl check <screen-id>
  syncctl publish [-dry-run] <advertiser-id> [screen-id...]
  syncctl publish [-dry-run] -f <batch.yaml>
  syncctl sweep [-async]
  syncctl trace <correlation-id>

Commands:
  ensure      Provision or adopt the screen's playlist
  reconcile   Detect and repair drift on one screen
  check       Report drift and mapping health without writing
  publish     Publish an advertiser's asset to its screens
  sweep       Reconcile every linked screen
  trace       Show a recorded trace

Flags:
  -api string   Core API base URL (default: $SYNCCTL_API or http://localhost:8090)
  -key string   API key (default: $SYNCCTL_API_KEY)`)
}

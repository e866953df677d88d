package syncctl

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Batch is a list of publish invocations read from YAML:
//
//	publishes:
//	  - advertiser: adv-1
//	  - advertiser: adv-2
//	    targets: [scr-1, scr-7]
type Batch struct {
	Publishes []BatchPublish `yaml:"publishes"`
}

type BatchPublish struct {
	Advertiser string   `yaml:"advertiser"`
	Targets    []string `yaml:"targets"`
}

func LoadBatch(path string) (*Batch, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	var b Batch
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	for i, p := range b.Publishes {
		if p.Advertiser == "" {
			return nil, fmt.Errorf("publishes[%d]: advertiser is required", i)
		}
	}
	return &b, nil
}

// PublishBatch runs every publish in order and keeps going after failures.
// The returned error counts the publishes that did not succeed.
func (c *Commands) PublishBatch(ctx context.Context, b *Batch, dryRun bool) error {
	failed := 0
	for _, p := range b.Publishes {
		fmt.Fprintf(c.Out, "==> %s\n", p.Advertiser)
		if err := c.Publish(ctx, p.Advertiser, p.Targets, dryRun); err != nil {
			fmt.Fprintf(c.Out, "error: %v\n", err)
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d publishes did not succeed", failed, len(b.Publishes))
	}
	return nil
}

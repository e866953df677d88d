package syncctl

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/edvin/screensync/internal/api/request"
	"github.com/edvin/screensync/internal/model"
)

// Commands runs operator commands against the core API and writes the
// response bodies, indented, to Out.
type Commands struct {
	Client *Client
	Out    io.Writer
}

func (c *Commands) EnsurePlaylist(ctx context.Context, screenID string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/screens/%s/playlist", url.PathEscape(screenID)), nil)
}

func (c *Commands) Reconcile(ctx context.Context, screenID string) error {
	return c.post(ctx, fmt.Sprintf("/api/v1/screens/%s/reconcile", url.PathEscape(screenID)), nil)
}

func (c *Commands) Check(ctx context.Context, screenID string) error {
	resp, err := c.Client.Get(ctx, fmt.Sprintf("/api/v1/screens/%s/sync", url.PathEscape(screenID)))
	if err != nil {
		return err
	}
	return c.print(resp.Body)
}

// Publish publishes one advertiser. It returns an error when the trace
// outcome is not SUCCESS so scripts can rely on the exit status.
func (c *Commands) Publish(ctx context.Context, advertiserID string, targets []string, dryRun bool) error {
	path := fmt.Sprintf("/api/v1/advertisers/%s/publish", url.PathEscape(advertiserID))
	if dryRun {
		path += "/dry-run"
	}
	resp, err := c.Client.Post(ctx, path, request.Publish{Targets: targets})
	if err != nil {
		return err
	}
	if err := c.print(resp.Body); err != nil {
		return err
	}

	var t model.Trace
	if err := json.Unmarshal(resp.Body, &t); err != nil {
		return fmt.Errorf("parse trace: %w", err)
	}
	if t.Outcome != model.OutcomeSuccess {
		return fmt.Errorf("publish %s: %s %s", advertiserID, t.Outcome, t.Code)
	}
	return nil
}

func (c *Commands) Sweep(ctx context.Context, async bool) error {
	path := "/api/v1/reconcile/sweep"
	if async {
		path += "?async=true"
	}
	return c.post(ctx, path, nil)
}

func (c *Commands) Trace(ctx context.Context, id string) error {
	resp, err := c.Client.Get(ctx, "/api/v1/traces/"+url.PathEscape(id))
	if err != nil {
		return err
	}
	return c.print(resp.Body)
}

func (c *Commands) post(ctx context.Context, path string, body any) error {
	resp, err := c.Client.Post(ctx, path, body)
	if err != nil {
		return err
	}
	return c.print(resp.Body)
}

func (c *Commands) print(body json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, body, "", "  "); err != nil {
		buf.Reset()
		buf.Write(body)
	}
	buf.WriteByte('\n')
	_, err := c.Out.Write(buf.Bytes())
	return err
}

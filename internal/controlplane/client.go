package controlplane

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

const (
	defaultMaxConcurrency = 4
	defaultTimeout        = 15 * time.Second
	defaultRetryBackoff   = 250 * time.Millisecond
	maxRetryBackoff       = 10 * time.Second
	maxErrorBody          = 512
)

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string

	// MaxConcurrency is the size of the permit pool shared by every caller
	// of this client.
	MaxConcurrency int64
	// Timeout bounds each individual attempt.
	Timeout time.Duration
	// MaxRetries is the number of additional attempts for transient failures.
	MaxRetries   int
	RetryBackoff time.Duration

	TLSConfig *tls.Config
	Logger    zerolog.Logger
}

// Client is the gateway to the control-plane API. It is safe for concurrent
// use; all requests share one bounded pool of in-flight permits.
type Client struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	sem          *semaphore.Weighted
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	logger       zerolog.Logger
}

// NewClient creates a control-plane client.
func NewClient(opts Options) *Client {
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = defaultMaxConcurrency
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = defaultRetryBackoff
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.TLSConfig != nil {
		transport.TLSClientConfig = opts.TLSConfig
	}

	return &Client{
		baseURL:      strings.TrimRight(opts.BaseURL, "/"),
		token:        opts.Token,
		httpClient:   &http.Client{Transport: transport},
		sem:          semaphore.NewWeighted(opts.MaxConcurrency),
		timeout:      opts.Timeout,
		maxRetries:   opts.MaxRetries,
		retryBackoff: opts.RetryBackoff,
		logger:       opts.Logger.With().Str("component", "controlplane-client").Logger(),
	}
}

// GetScreen fetches a device by its control-plane id.
func (c *Client) GetScreen(ctx context.Context, deviceID int64) (*Screen, error) {
	var s Screen
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/screens/%d", deviceID), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// SetScreenContent points a screen at the given source.
func (c *Client) SetScreenContent(ctx context.Context, deviceID int64, sourceType string, sourceID int64) error {
	body := map[string]any{
		"screen_content": map[string]any{
			"source_type": sourceType,
			"source_id":   sourceID,
		},
	}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/screens/%d", deviceID), body, nil)
}

// PushScreen asks the device to reload its content.
func (c *Client) PushScreen(ctx context.Context, deviceID int64) error {
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/screens/%d/push", deviceID), nil, nil)
}

// GetPlaylist fetches a playlist with its items.
func (c *Client) GetPlaylist(ctx context.Context, id int64) (*Playlist, error) {
	var p Playlist
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/playlists/%d", id), nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// CreatePlaylist creates a playlist holding items in the given encoding.
func (c *Client) CreatePlaylist(ctx context.Context, name string, items []PlaylistItem, enc ItemEncoding) (*Playlist, error) {
	encoded, err := EncodeItems(items, enc)
	if err != nil {
		return nil, err
	}
	body := struct {
		Name  string          `json:"name"`
		Items json.RawMessage `json:"items"`
	}{Name: name, Items: encoded}

	var p Playlist
	if err := c.do(ctx, http.MethodPost, "/playlists", body, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// UpdatePlaylistItems replaces the complete items array of a playlist. The
// control plane has no append primitive.
func (c *Client) UpdatePlaylistItems(ctx context.Context, id int64, items []PlaylistItem, enc ItemEncoding) error {
	encoded, err := EncodeItems(items, enc)
	if err != nil {
		return err
	}
	body := struct {
		Items json.RawMessage `json:"items"`
	}{Items: encoded}
	return c.do(ctx, http.MethodPatch, fmt.Sprintf("/playlists/%d", id), body, nil)
}

// GetLayout fetches a layout.
func (c *Client) GetLayout(ctx context.Context, id int64) (*Layout, error) {
	var l Layout
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/layouts/%d", id), nil, &l); err != nil {
		return nil, err
	}
	return &l, nil
}

// GetSchedule fetches a schedule.
func (c *Client) GetSchedule(ctx context.Context, id int64) (*Schedule, error) {
	var s Schedule
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/schedules/%d", id), nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// GetTagPlaylist fetches a tag-filtered playlist definition.
func (c *Client) GetTagPlaylist(ctx context.Context, id int64) (*TagPlaylist, error) {
	var t TagPlaylist
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/tagbased-playlists/%d", id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// GetMedia fetches a media item.
func (c *Client) GetMedia(ctx context.Context, id int64) (*Media, error) {
	var m Media
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/media/%d", id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// ListWorkspaceMedia returns every media item in a workspace, following
// pagination until exhausted.
func (c *Client) ListWorkspaceMedia(ctx context.Context, workspaceID int64) ([]Media, error) {
	const limit = 100
	var all []Media
	offset := 0
	for {
		path := fmt.Sprintf("/media?workspace=%d&limit=%d&offset=%d", workspaceID, limit, offset)
		var p page[Media]
		if err := c.do(ctx, http.MethodGet, path, nil, &p); err != nil {
			return nil, err
		}
		all = append(all, p.Results...)
		if p.Next == nil || *p.Next == "" || len(p.Results) == 0 {
			return all, nil
		}
		offset += len(p.Results)
	}
}

// do executes one logical request, retrying transient failures. Every attempt
// holds a permit from the shared pool for its duration.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	resource := resourceLabel(path)
	attempts := 0
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		attempts++
		err := c.attempt(ctx, method, path, resource, payload, result)
		if err != nil && (ctx.Err() != nil || !IsRetryable(err)) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(c.retryPolicy()),
		backoff.WithMaxTries(uint(c.maxRetries+1)),
		backoff.WithNotify(func(err error, next time.Duration) {
			c.logger.Warn().
				Err(err).
				Str("method", method).
				Str("path", path).
				Int("attempt", attempts+1).
				Dur("backoff", next).
				Msg("retrying control plane request")
			retriesTotal.WithLabelValues(method, resource).Inc()
		}),
	)
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return fmt.Errorf("control plane %s %s: %w", method, path, err)
	}
	return err
}

// retryPolicy doubles the wait after every transient failure, starting at
// the configured backoff.
func (c *Client) retryPolicy() *backoff.ExponentialBackOff {
	return &backoff.ExponentialBackOff{
		InitialInterval:     c.retryBackoff,
		RandomizationFactor: 0,
		Multiplier:          2,
		MaxInterval:         maxRetryBackoff,
	}
}

func (c *Client) attempt(ctx context.Context, method, path, resource string, payload []byte, result any) error {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire control plane permit: %w", err)
	}
	defer c.sem.Release(1)

	inFlight.Inc()
	defer inFlight.Dec()

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	req.Header.Set("Authorization", "Token "+c.token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		observe(method, resource, "error", start)
		return fmt.Errorf("control plane %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	observe(method, resource, strconv.Itoa(resp.StatusCode), start)

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &APIError{
			Method:     method,
			Path:       path,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}

	if result == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrMalformedResponse, method, path, err)
	}
	return nil
}

// resourceLabel reduces a request path to its first segment so metric label
// cardinality stays bounded.
func resourceLabel(path string) string {
	p := path
	if u, err := url.Parse(path); err == nil {
		p = u.Path
	}
	p = strings.TrimPrefix(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		p = p[:i]
	}
	if p == "" {
		return "root"
	}
	return p
}

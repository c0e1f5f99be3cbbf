// Package directory talks to the engine's REST directory: the list of
// running queries, the stream schema, and query deactivation.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tinytelemetry/cepwatch/internal/model"
)

// ErrStatus is returned when the directory answers with a non-2xx status.
var ErrStatus = errors.New("unexpected directory status")

const (
	queriesPath    = "/all-queries-info"
	streamsPath    = "/all-streams-info"
	inactivatePath = "/inactivate-query/"

	defaultTimeout = 10 * time.Second
	maxBodySize    = 32 << 20
)

// Client is a REST client for the directory endpoints.
type Client struct {
	base string
	http *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// NewClient creates a client for the backend at base.
func NewClient(base string, opts ...Option) *Client {
	c := &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Queries returns every query known to the engine, active or not.
func (c *Client) Queries(ctx context.Context) ([]model.Query, error) {
	var out []model.Query
	if err := c.getJSON(ctx, queriesPath, &out); err != nil {
		return nil, fmt.Errorf("list queries: %w", err)
	}
	return out, nil
}

// ActiveQueries returns the queries currently flagged active.
func (c *Client) ActiveQueries(ctx context.Context) ([]model.Query, error) {
	all, err := c.Queries(ctx)
	if err != nil {
		return nil, err
	}
	active := all[:0]
	for _, q := range all {
		if q.Active {
			active = append(active, q)
		}
	}
	return active, nil
}

// Streams returns the stream schema used to decode result frames.
func (c *Client) Streams(ctx context.Context) ([]model.StreamInfo, error) {
	var out []model.StreamInfo
	if err := c.getJSON(ctx, streamsPath, &out); err != nil {
		return nil, fmt.Errorf("list streams: %w", err)
	}
	return out, nil
}

// InactivateQuery asks the engine to deactivate a query.
func (c *Client) InactivateQuery(ctx context.Context, id model.QueryID) error {
	url := c.base + inactivatePath + strconv.FormatInt(int64(id), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("inactivate query %d: %w", id, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("inactivate query %d: %w", id, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))
	if err := checkStatus(resp); err != nil {
		return fmt.Errorf("inactivate query %d: %w", id, err)
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp); err != nil {
		return err
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}
	return nil
}

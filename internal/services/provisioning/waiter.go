// Package provisioning waits for topologies on the API upstream to finish
// provisioning.
package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/terraconstructs/gridgate/internal/poll"
	"github.com/terraconstructs/gridgate/internal/telemetry"
)

// Topology states reported by the API upstream.
const (
	StateReady  = "ready"
	StateFailed = "failed"
)

// ErrProvisioningFailed is returned when the topology reaches StateFailed.
var ErrProvisioningFailed = errors.New("topology provisioning failed")

// Status is the provisioning status of one topology.
type Status struct {
	ID      string `json:"id"`
	State   string `json:"state"`
	Message string `json:"message,omitempty"`
}

// Terminal reports whether provisioning has finished, successfully or not.
func (s Status) Terminal() bool {
	return s.State == StateReady || s.State == StateFailed
}

// StatusFetcher reads the current status of a topology.
type StatusFetcher interface {
	Status(ctx context.Context, topologyID string) (Status, error)
}

// Client reads topology status from the API upstream.
type Client struct {
	base *url.URL
	http *http.Client
}

// NewClient creates a client for the API upstream at baseURL.
func NewClient(baseURL string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid API upstream %q", baseURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{base: base, http: httpClient}, nil
}

// Status fetches GET /v2/topologies/{id}/status.
func (c *Client) Status(ctx context.Context, topologyID string) (Status, error) {
	endpoint := c.base.JoinPath("v2", "topologies", topologyID, "status")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return Status{}, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Status{}, fmt.Errorf("fetch topology status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Status{}, fmt.Errorf("fetch topology status: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status Status
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return Status{}, fmt.Errorf("decode topology status: %w", err)
	}
	if status.ID == "" {
		status.ID = topologyID
	}
	return status, nil
}

// Defaults for Waiter.
const (
	DefaultInterval    = 5 * time.Second
	DefaultMaxAttempts = 60
)

// Waiter polls a StatusFetcher until a topology is terminal.
type Waiter struct {
	Fetcher     StatusFetcher
	Interval    time.Duration
	MaxAttempts int
	Logger      *zap.Logger
}

// Wait blocks until the topology is ready. A failed topology returns
// ErrProvisioningFailed; running out of attempts returns an error matching
// poll.ErrTimeoutExceeded; a failed status request is not retried.
func (w *Waiter) Wait(ctx context.Context, topologyID string) (Status, error) {
	logger := w.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	interval, attempts := w.Interval, w.MaxAttempts
	if interval <= 0 {
		interval = DefaultInterval
	}
	if attempts == 0 {
		attempts = DefaultMaxAttempts
	}

	ctx, span := telemetry.StartSpan(ctx, telemetry.TracerPoll, "provisioning.Wait",
		attribute.String("topology.id", topologyID))
	defer span.End()

	n := 0
	status, err := poll.Poll(ctx,
		func(ctx context.Context) (Status, error) {
			n++
			s, err := w.Fetcher.Status(ctx, topologyID)
			if err == nil {
				logger.Debug("topology status", zap.String("topology_id", topologyID), zap.String("state", s.State), zap.Int("attempt", n))
			}
			return s, err
		},
		Status.Terminal,
		interval,
		attempts,
	)
	span.SetAttributes(attribute.Int(telemetry.AttrPollAttempts, n))
	if err != nil {
		telemetry.RecordError(span, err)
		return Status{}, err
	}

	if status.State == StateFailed {
		err := fmt.Errorf("%w: %s", ErrProvisioningFailed, status.Message)
		telemetry.RecordError(span, err)
		return status, err
	}
	return status, nil
}

// WaitAsync runs Wait in the background and delivers its single result.
func (w *Waiter) WaitAsync(ctx context.Context, topologyID string) <-chan poll.Result[Status] {
	ch := make(chan poll.Result[Status], 1)
	go func() {
		defer close(ch)
		s, err := w.Wait(ctx, topologyID)
		ch <- poll.Result[Status]{Value: s, Err: err}
	}()
	return ch
}

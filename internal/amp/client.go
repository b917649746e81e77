// Package amp implements the Poll Client: an authenticated AMP REST client
// with timeout, retry, and transparent session refresh, plus the Poller that
// converts raw failures into typed poll outcomes.
package amp

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ampwatch/agent/internal/models"
)

const (
	loginEndpoint        = "/API/Core/Login"
	instancesEndpoint    = "/API/Core/GetInstances"
	playerCountsEndpoint = "/API/Core/GetPlayerCounts"

	// baseRetryDelay is the base delay for exponential backoff between
	// retries of a retryable request.
	baseRetryDelay = 500 * time.Millisecond

	// maxResponseBytes bounds how much of a response body is read, so a
	// misbehaving endpoint cannot balloon memory.
	maxResponseBytes = 1 << 20
)

// ErrUnauthorized marks authentication failures that will not self-resolve by
// retrying. It is returned only after one transparent session refresh has
// already been attempted.
var ErrUnauthorized = errors.New("amp: unauthorized")

// ErrMalformed marks responses the client could not interpret. Treated as
// non-retryable: a panel speaking a different dialect needs operator
// attention, not retries.
var ErrMalformed = errors.New("amp: malformed response")

// StatusError is an HTTP error response from the panel.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("amp: server returned %d: %s", e.Code, e.Body)
}

// Options are the connection settings for a Client. The struct is comparable
// so callers can detect when a hot-reload changed anything that requires a
// rebuilt client.
type Options struct {
	BaseURL    string
	APIKey     string
	VerifySSL  bool
	Timeout    time.Duration
	MaxRetries int
}

// Client is a thin AMP REST client. The cached session token is its only
// mutable state; everything else is read-only after construction.
type Client struct {
	opts   Options
	http   *http.Client
	logger *zap.Logger

	mu      sync.Mutex
	session string
}

// NewClient creates a client for the given panel. Disabled certificate
// verification is an explicit opt-in and is logged loudly.
func NewClient(opts Options, logger *zap.Logger) *Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if !opts.VerifySSL {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
		logger.Warn("TLS certificate verification disabled by configuration",
			zap.String("base_url", opts.BaseURL))
	}
	return &Client{
		opts: opts,
		http: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		logger: logger,
	}
}

// Instance is one AMP instance as enumerated by the panel.
type Instance struct {
	ID   models.InstanceID `json:"id"`
	Name string            `json:"name"`
}

// Instances enumerates the panel's instances with their friendly names.
func (c *Client) Instances(ctx context.Context) ([]Instance, error) {
	body, err := c.call(ctx, http.MethodGet, instancesEndpoint, nil)
	if err != nil {
		return nil, err
	}

	// The panel returns either {"instances": [...]} or a bare list; entries
	// are objects or plain name strings.
	var payload struct {
		Instances []json.RawMessage `json:"instances"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Instances == nil {
		if err := json.Unmarshal(body, &payload.Instances); err != nil {
			return nil, fmt.Errorf("listing instances: %w", ErrMalformed)
		}
	}

	instances := make([]Instance, 0, len(payload.Instances))
	for _, raw := range payload.Instances {
		var inst Instance
		if err := json.Unmarshal(raw, &inst); err == nil && (inst.ID != "" || inst.Name != "") {
			if inst.ID == "" {
				inst.ID = models.InstanceID(inst.Name)
			}
			instances = append(instances, inst)
			continue
		}
		var name string
		if err := json.Unmarshal(raw, &name); err == nil && name != "" {
			instances = append(instances, Instance{ID: models.InstanceID(name), Name: name})
			continue
		}
		return nil, fmt.Errorf("listing instances: %w", ErrMalformed)
	}
	return instances, nil
}

// PlayerCounts fetches current player counts for the given instances.
// Instances missing from the response default to zero players.
func (c *Client) PlayerCounts(ctx context.Context, ids []models.InstanceID) (map[models.InstanceID]int, error) {
	if len(ids) == 0 {
		return map[models.InstanceID]int{}, nil
	}

	body, err := c.call(ctx, http.MethodPost, playerCountsEndpoint, map[string]any{
		"instances": ids,
	})
	if err != nil {
		return nil, err
	}

	var payload map[models.InstanceID]json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("reading player counts: %w", ErrMalformed)
	}

	counts := make(map[models.InstanceID]int, len(ids))
	for _, id := range ids {
		raw, ok := payload[id]
		if !ok {
			c.logger.Debug("Defaulting missing player count to 0",
				zap.String("instance", string(id)))
			counts[id] = 0
			continue
		}
		n, err := decodeCount(raw)
		if err != nil {
			return nil, fmt.Errorf("player count for %q: %w", id, ErrMalformed)
		}
		if n < 0 {
			return nil, fmt.Errorf("negative player count for %q: %w", id, ErrMalformed)
		}
		counts[id] = n
	}
	return counts, nil
}

// PlayerCount fetches the current player count for a single instance.
func (c *Client) PlayerCount(ctx context.Context, id models.InstanceID) (int, error) {
	counts, err := c.PlayerCounts(ctx, []models.InstanceID{id})
	if err != nil {
		return 0, err
	}
	return counts[id], nil
}

// decodeCount accepts both a bare integer and the {"players": n} object form.
func decodeCount(raw json.RawMessage) (int, error) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, nil
	}
	var obj struct {
		Players int `json:"players"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return 0, err
	}
	return obj.Players, nil
}

// call issues a request with retries and exponential backoff. Auth expiry is
// handled inside each attempt (one transparent refresh); only retryable
// failures consume further attempts.
func (c *Client) call(ctx context.Context, method, path string, body any) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(math.Pow(2, float64(attempt-1))) * baseRetryDelay
			c.logger.Debug("Retrying AMP request",
				zap.String("path", path),
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := c.attempt(ctx, method, path, body)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !retryable(err) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("amp: retries exhausted for %s: %w", path, lastErr)
}

// attempt performs one request against a valid session, refreshing the
// session and retrying exactly once on an authentication-expiry signal before
// counting it as a failure.
func (c *Client) attempt(ctx context.Context, method, path string, body any) ([]byte, error) {
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}

	data, err := c.doOnce(ctx, method, path, body)
	if !authExpired(err) {
		return data, err
	}

	c.logger.Debug("Session expired, refreshing", zap.String("path", path))
	c.setSession("")
	if err := c.ensureSession(ctx); err != nil {
		return nil, err
	}
	data, err = c.doOnce(ctx, method, path, body)
	if authExpired(err) {
		return nil, fmt.Errorf("amp: session refresh did not restore access: %w", ErrUnauthorized)
	}
	return data, err
}

// ensureSession logs in when no session token is cached.
func (c *Client) ensureSession(ctx context.Context) error {
	if c.currentSession() != "" {
		return nil
	}

	payload, err := c.doOnce(ctx, http.MethodPost, loginEndpoint, map[string]string{
		"apiKey": c.opts.APIKey,
	})
	if err != nil {
		if authExpired(err) {
			return fmt.Errorf("amp: login rejected: %w", ErrUnauthorized)
		}
		return fmt.Errorf("amp: login: %w", err)
	}

	var resp struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(payload, &resp); err != nil || resp.SessionID == "" {
		return fmt.Errorf("amp: login response: %w", ErrMalformed)
	}

	c.setSession(resp.SessionID)
	c.logger.Debug("Authenticated with AMP panel")
	return nil
}

// doOnce performs a single HTTP round trip, no retries.
func (c *Client) doOnce(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("amp: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.opts.BaseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("amp: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "AMP "+c.opts.APIKey)
	if session := c.currentSession(); session != "" && path != loginEndpoint {
		req.Header.Set("X-Session-Id", session)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("amp: request %s: %w", path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("amp: read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: truncate(string(data), 200)}
	}
	return data, nil
}

func (c *Client) currentSession() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

func (c *Client) setSession(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = s
}

// authExpired reports whether the error is the panel's authentication-expiry
// signal (401/403-class response).
func authExpired(err error) bool {
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code == http.StatusUnauthorized || status.Code == http.StatusForbidden
	}
	return false
}

// retryable reports whether an error may self-resolve by retrying: connection
// and timeout failures, 5xx responses, and rate limiting. Auth and malformed
// responses are not retryable.
func retryable(err error) bool {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMalformed) {
		return false
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 500 || status.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	// Everything else at this layer is a transport-level failure.
	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

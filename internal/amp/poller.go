package amp

import (
	"context"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ampwatch/agent/internal/config"
	"github.com/ampwatch/agent/internal/models"
)

// Poller turns raw client results into typed poll outcomes. It performs no
// local state mutation, so it can be exercised against a fake panel.
type Poller struct {
	client *Client
	logger *zap.Logger
}

// NewPoller wraps a client.
func NewPoller(client *Client, logger *zap.Logger) *Poller {
	return &Poller{client: client, logger: logger}
}

// Poll fetches one instance's player count within the context's budget and
// classifies the result.
func (p *Poller) Poll(ctx context.Context, id models.InstanceID) models.PollOutcome {
	count, err := p.client.PlayerCount(ctx, id)
	if err == nil {
		return models.SuccessOutcome(models.Observation{
			Instance:    id,
			PlayerCount: count,
			ObservedAt:  time.Now().UTC(),
		})
	}
	if fatal(err) {
		return models.FatalOutcome(id, err)
	}
	return models.TransientOutcome(id, err)
}

// fatal reports whether an error cannot self-resolve by waiting: bad
// credentials, a panel speaking a different dialect, or a request the panel
// rejects outright.
func fatal(err error) bool {
	if errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrMalformed) {
		return true
	}
	var status *StatusError
	if errors.As(err, &status) {
		return status.Code >= 400 && status.Code < 500 && status.Code != http.StatusTooManyRequests
	}
	return false
}

// PollerCache hands out the Poller for a config snapshot, rebuilding the
// underlying client only when connection settings change. This preserves the
// authenticated session across cycles while letting hot reloads repoint the
// agent at a different panel.
type PollerCache struct {
	logger *zap.Logger
	opts   Options
	poller *Poller
}

// NewPollerCache creates an empty cache.
func NewPollerCache(logger *zap.Logger) *PollerCache {
	return &PollerCache{logger: logger}
}

// For returns the poller matching the given snapshot.
func (pc *PollerCache) For(cfg *config.Config) *Poller {
	opts := Options{
		BaseURL:    cfg.AMPBaseURL,
		APIKey:     cfg.APIKey,
		VerifySSL:  cfg.VerifySSL,
		Timeout:    cfg.PollTimeout(),
		MaxRetries: cfg.MaxRetries,
	}
	if pc.poller == nil || opts != pc.opts {
		pc.opts = opts
		pc.poller = NewPoller(NewClient(opts, pc.logger), pc.logger)
	}
	return pc.poller
}

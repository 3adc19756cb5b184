package completion

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/zulandar/switchyard/internal/apperr"
	"github.com/zulandar/switchyard/internal/config"
	"go.uber.org/zap"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 5
	defaultBreakerOpenTimeout time.Duration = 30 * time.Second
	defaultBreakerInterval    time.Duration = 60 * time.Second
)

// BreakerClient wraps a Client with circuit breaker protection. When the
// backend fails repeatedly the circuit opens and calls fail fast with
// UpstreamUnavailable instead of waiting out another timeout.
type BreakerClient struct {
	inner   Client
	breaker *gobreaker.CircuitBreaker[string]
}

// NewBreakerClient wraps inner. Zero-valued settings take defaults.
func NewBreakerClient(inner Client, cfg config.BreakerConfig, logger *zap.Logger) *BreakerClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	openTimeout := cfg.OpenTimeout
	if openTimeout == 0 {
		openTimeout = defaultBreakerOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultBreakerInterval
	}

	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "completion",
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     openTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// Only backend failures count against the circuit; a caller that
		// hangs up is not evidence that the backend is down.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
	return &BreakerClient{inner: inner, breaker: cb}
}

// Generate implements Client.
func (b *BreakerClient) Generate(ctx context.Context, req Request) (string, error) {
	out, err := b.breaker.Execute(func() (string, error) {
		return b.inner.Generate(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", apperr.E(apperr.UpstreamUnavailable, "completion: "+opName(req), err)
	}
	return out, err
}

// State returns the current breaker state for health reporting.
func (b *BreakerClient) State() gobreaker.State {
	return b.breaker.State()
}

var _ Client = (*BreakerClient)(nil)

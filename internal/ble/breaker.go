package ble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Default circuit breaker settings.
const (
	defaultBreakerMaxFailures uint32        = 3
	defaultBreakerTimeout     time.Duration = 30 * time.Second
)

// BreakerConfig configures connect fail-fast behavior.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive connect failures before the
	// circuit opens.
	MaxFailures uint32
	// Timeout is how long the circuit stays open before a trial connect is allowed.
	Timeout time.Duration
}

// BreakerAdapter wraps an Adapter so that repeated connect failures to an
// out-of-range or powered-off light fail fast instead of blocking on the
// radio's own connect timeout every time.
type BreakerAdapter struct {
	Adapter
	breaker *gobreaker.CircuitBreaker[Connection]
}

// NewBreakerAdapter wraps inner with a circuit breaker on Connect.
// Zero-valued config fields fall back to defaults.
func NewBreakerAdapter(inner Adapter, cfg BreakerConfig, logger *slog.Logger) *BreakerAdapter {
	if inner == nil {
		panic("ble: NewBreakerAdapter called with nil adapter")
	}
	if logger == nil {
		logger = slog.Default()
	}
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultBreakerMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultBreakerTimeout
	}

	cb := gobreaker.NewCircuitBreaker[Connection](gobreaker.Settings{
		Name:        "ble:connect",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("[BLE] connect breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})

	return &BreakerAdapter{Adapter: inner, breaker: cb}
}

// Connect routes the connection attempt through the circuit breaker.
func (b *BreakerAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	conn, err := b.breaker.Execute(func() (Connection, error) {
		return b.Adapter.Connect(ctx, id)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("ble: connect to %s: circuit open: %w", id, err)
		}
		return nil, err
	}
	return conn, nil
}

// State reports the breaker state, for status output.
func (b *BreakerAdapter) State() string {
	return b.breaker.State().String()
}

var _ Adapter = (*BreakerAdapter)(nil)

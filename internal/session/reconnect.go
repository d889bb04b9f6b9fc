package session

import (
	"context"
	"errors"
	"time"
)

// backoffDelay returns the reconnection delay for attempt n, capped at max.
func backoffDelay(attempt int, max time.Duration) time.Duration {
	if attempt >= 31 {
		return max
	}
	delay := time.Duration(1<<uint(attempt)) * time.Second
	if delay > max {
		return max
	}
	return delay
}

// ConnectWithRetry calls Connect until it succeeds, ctx ends, Disconnect is
// called, or the light turns out not to expose the channel characteristics.
// The first attempt is immediate; later ones back off exponentially up to
// maxDelay.
func (m *Manager) ConnectWithRetry(ctx context.Context, id string, maxDelay time.Duration) error {
	m.mu.Lock()
	disconnects := m.disconnects
	m.mu.Unlock()

	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(attempt-1, maxDelay)
			m.logger.Info("[SESSION] reconnect backoff", "attempt", attempt+1, "delay", delay)
			t := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
		}

		m.mu.Lock()
		cancelled := m.disconnects != disconnects
		m.mu.Unlock()
		if cancelled {
			return ErrConnectAborted
		}

		err := m.Connect(ctx, id)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrDiscovery) || errors.Is(err, ErrConnectAborted) {
			return err
		}
		m.logger.Warn("[SESSION] reconnect failed", "attempt", attempt+1, "error", err)
	}
}

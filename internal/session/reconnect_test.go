package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chaz8081/ara-light/internal/ble"
)

func TestBackoffDelay(t *testing.T) {
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 1 * time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{3, 8 * time.Second},
		{4, 16 * time.Second},
		{5, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, backoffDelay(tt.attempt, 30*time.Second), "attempt %d", tt.attempt)
	}
}

func TestConnectWithRetryRecovers(t *testing.T) {
	h := newHarness(t, nil)
	h.adapter.SetConnectError(errors.New("device not found"))

	done := make(chan error, 1)
	go func() {
		done <- h.m.ConnectWithRetry(context.Background(), testDeviceID, time.Millisecond)
	}()

	require.Eventually(t, func() bool { return h.adapter.Connects() >= 3 }, waitFor, tick)
	h.adapter.SetConnectError(nil)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("ConnectWithRetry did not return after the light came back")
	}
	assert.True(t, h.m.IsConnected())
}

func TestConnectWithRetryStopsOnCancel(t *testing.T) {
	h := newHarness(t, nil)
	h.adapter.SetConnectError(errors.New("device not found"))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- h.m.ConnectWithRetry(ctx, testDeviceID, time.Millisecond)
	}()

	require.Eventually(t, func() bool { return h.adapter.Connects() >= 2 }, waitFor, tick)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(waitFor):
		t.Fatal("ConnectWithRetry ignored cancellation")
	}
	assert.False(t, h.m.IsConnected())
}

func TestConnectWithRetryGivesUpOnDiscoveryFailure(t *testing.T) {
	h := newHarness(t, nil)
	h.conn.Remove(ble.SwitchCharUUID)

	err := h.m.ConnectWithRetry(context.Background(), testDeviceID, time.Millisecond)
	require.ErrorIs(t, err, ErrDiscovery)
	assert.Equal(t, 1, h.adapter.Connects())
}

func TestConnectWithRetryStopsOnDisconnect(t *testing.T) {
	h := newHarness(t, nil)
	h.adapter.SetConnectError(errors.New("device not found"))

	done := make(chan error, 1)
	go func() {
		done <- h.m.ConnectWithRetry(context.Background(), testDeviceID, 50*time.Millisecond)
	}()

	require.Eventually(t, func() bool { return h.adapter.Connects() >= 1 }, waitFor, tick)
	h.m.Disconnect()
	h.adapter.SetConnectError(nil)

	select {
	case err := <-done:
		require.ErrorIs(t, err, ErrConnectAborted)
	case <-time.After(waitFor):
		t.Fatal("ConnectWithRetry kept retrying after Disconnect")
	}
	assert.False(t, h.m.IsConnected())
}

package session

import (
	"context"
	"errors"

	"github.com/oklog/ulid/v2"

	"github.com/chaz8081/ara-light/internal/ble"
	"github.com/chaz8081/ara-light/internal/codec"
	"github.com/chaz8081/ara-light/internal/tracing"
)

// startPolling reads temperature once, subscribes to notifications when
// enabled, then starts one poll loop per channel. If the transport cannot
// read at all, every channel is subscribed instead and no loop starts.
func (m *Manager) startPolling(sess *session) {
	err := m.read(sess.id, codec.Temperature, sess.chars[codec.Temperature])
	readable := !errors.Is(err, ble.ErrReadUnsupported)
	if !readable {
		m.logger.Info("[SESSION] transport cannot read, using notifications only", "session", sess.id)
		m.dispatch(readsUnsupported{session: sess.id})
	}

	if m.opts.Notifications || !readable {
		for _, ch := range codec.Channels {
			m.subscribe(sess.id, ch, sess.chars[ch])
		}
	}
	if !readable {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.current(sess.id) {
		return
	}
	for _, ch := range codec.Channels {
		m.schedulePoll(sess, ch)
	}
}

func (m *Manager) subscribe(id ulid.ULID, ch codec.Channel, char ble.Characteristic) {
	err := char.Subscribe(func(data []byte) {
		m.dispatch(readCompleted{session: id, ch: ch, data: data})
	})
	if err != nil {
		m.logger.Warn("[SESSION] subscribe failed", "channel", ch, "error", err)
	}
}

// schedulePoll arms the next tick of ch's poll loop. Caller holds m.mu.
func (m *Manager) schedulePoll(sess *session, ch codec.Channel) {
	id := sess.id
	sess.polls[ch] = m.clock.AfterFunc(m.opts.PollIntervals[ch], func() {
		m.pollTick(id, ch)
	})
}

// pollTick reads ch and schedules the next tick once the read returns, so a
// slow characteristic never has more than one read outstanding. Each
// channel's loop is independent of the others.
func (m *Manager) pollTick(id ulid.ULID, ch codec.Channel) {
	m.mu.Lock()
	if !m.current(id) {
		m.mu.Unlock()
		return
	}
	char := m.sess.chars[ch]
	m.mu.Unlock()

	if err := m.read(id, ch, char); errors.Is(err, ble.ErrReadUnsupported) {
		m.logger.Warn("[SESSION] read unsupported, channel left to notifications", "channel", ch)
		if !m.opts.Notifications {
			m.subscribe(id, ch, char)
		}
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current(id) {
		m.schedulePoll(m.sess, ch)
	}
}

func (m *Manager) read(id ulid.ULID, ch codec.Channel, char ble.Characteristic) error {
	_, span := tracing.StartSpan(context.Background(), "ble.read",
		tracing.Channel(ch.String()), tracing.Session(id.String()))
	data, err := char.Read()
	tracing.End(span, err)
	m.dispatch(readCompleted{session: id, ch: ch, data: data, err: err})
	return err
}

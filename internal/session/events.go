package session

import (
	"github.com/oklog/ulid/v2"

	"github.com/chaz8081/ara-light/internal/codec"
)

// event is an input to the manager's state machine.
type event interface {
	isEvent()
}

type (
	// connected installs a freshly opened session if no Disconnect or newer
	// Connect has happened since the connect started (gen).
	connected struct {
		sess *session
		gen  uint64
	}
	// readCompleted carries a characteristic read or notification.
	readCompleted struct {
		session ulid.ULID
		ch      codec.Channel
		data    []byte
		err     error
	}
	// writeCompleted reports the outcome of the write holding gate seq.
	writeCompleted struct {
		seq uint64
		ch  codec.Channel
		err error
	}
	inactivityTimeout struct {
		session ulid.ULID
		gen     uint64
	}
	busyTimeout struct {
		seq uint64
	}
	// linkLost reports a peripheral-initiated disconnect.
	linkLost struct {
		session ulid.ULID
	}
	// readsUnsupported switches a session to notifications only.
	readsUnsupported struct {
		session ulid.ULID
	}
	disconnectRequested struct{}
)

func (connected) isEvent()           {}
func (readCompleted) isEvent()       {}
func (writeCompleted) isEvent()      {}
func (inactivityTimeout) isEvent()   {}
func (busyTimeout) isEvent()         {}
func (linkLost) isEvent()            {}
func (readsUnsupported) isEvent()    {}
func (disconnectRequested) isEvent() {}

// effect is work that must run after Manager.mu is released: transport
// calls and user hooks.
type effect func()

func runEffects(fx []effect) {
	for _, f := range fx {
		f()
	}
}

// dispatch is the single entry point for every timer and transport callback.
func (m *Manager) dispatch(ev event) {
	m.mu.Lock()
	fx := m.apply(ev)
	m.mu.Unlock()
	runEffects(fx)
}

// apply is the state transition function. Caller holds m.mu.
func (m *Manager) apply(ev event) []effect {
	switch ev := ev.(type) {
	case connected:
		if ev.gen != m.connectGen {
			conn, logger := ev.sess.conn, m.logger
			return []effect{func() {
				if err := conn.Disconnect(); err != nil {
					logger.Debug("[SESSION] disconnect abandoned link", "error", err)
				}
			}}
		}
		var fx []effect
		if m.sess != nil {
			fx = append(fx, m.teardown(true)...)
		}
		m.sess = ev.sess
		m.armInactivity()
		fx = append(fx, m.setState(StateConnected)...)
		sess := ev.sess
		return append(fx, func() { m.startPolling(sess) })

	case readCompleted:
		if !m.current(ev.session) {
			return nil
		}
		if ev.err != nil {
			m.logger.Debug("[SESSION] read failed", "channel", ev.ch, "error", ev.err)
			return nil
		}
		m.armInactivity()
		v, ok := m.opts.Table.DecodePayload(ev.ch, ev.data)
		if !ok {
			m.logger.Debug("[SESSION] unrecognized reading ignored", "channel", ev.ch, "data", ev.data)
			return nil
		}
		if prev, had := m.cache[ev.ch]; !had || prev != v {
			m.logger.Info("[SESSION] state changed", "channel", ev.ch, "value", v)
		}
		m.cache[ev.ch] = v
		return nil

	case writeCompleted:
		if !m.gate.release(ev.seq) {
			m.logger.Debug("[SESSION] stale write completion", "channel", ev.ch, "seq", ev.seq)
		}
		if ev.err == nil {
			return nil
		}
		m.logger.Warn("[SESSION] write failed", "channel", ev.ch, "error", ev.err)
		if hook := m.opts.OnWriteError; hook != nil {
			ch, err := ev.ch, ev.err
			return []effect{func() { hook(ch, err) }}
		}
		return nil

	case busyTimeout:
		if m.gate.release(ev.seq) {
			m.logger.Warn("[SESSION] write not acknowledged, busy gate released", "timeout", m.opts.BusyTimeout)
		}
		return nil

	case inactivityTimeout:
		if !m.current(ev.session) || ev.gen != m.sess.inactivityGen {
			return nil
		}
		m.logger.Warn("[SESSION] no readings, disconnecting", "session", ev.session, "inactivity", m.opts.Inactivity)
		return m.teardown(true)

	case linkLost:
		if !m.current(ev.session) {
			return nil
		}
		m.logger.Warn("[SESSION] link lost", "session", ev.session)
		return m.teardown(false)

	case readsUnsupported:
		if !m.current(ev.session) || m.sess.notifyOnly {
			return nil
		}
		m.sess.notifyOnly = true
		if m.sess.inactivity != nil {
			m.sess.inactivity.Stop()
			m.sess.inactivity = nil
		}
		return nil

	case disconnectRequested:
		m.connectGen++
		m.disconnects++
		return m.teardown(true)
	}
	return nil
}

// current reports whether id names the live session. Caller holds m.mu.
func (m *Manager) current(id ulid.ULID) bool {
	return m.sess != nil && m.sess.id == id
}

// setState records a transition and returns the hook call, if any.
func (m *Manager) setState(s State) []effect {
	if m.state == s {
		return nil
	}
	m.state = s
	if hook := m.opts.OnStateChange; hook != nil {
		return []effect{func() { hook(s) }}
	}
	return nil
}

// teardown cancels every timer of the live session and drops it. With
// closeLink the transport is closed after the lock is released.
// Caller holds m.mu.
func (m *Manager) teardown(closeLink bool) []effect {
	var fx []effect
	if sess := m.sess; sess != nil {
		for ch, t := range sess.polls {
			t.Stop()
			delete(sess.polls, ch)
		}
		if sess.inactivity != nil {
			sess.inactivity.Stop()
			sess.inactivity = nil
		}
		m.sess = nil
		if closeLink {
			conn, logger := sess.conn, m.logger
			fx = append(fx, func() {
				if err := conn.Disconnect(); err != nil {
					logger.Warn("[SESSION] disconnect", "error", err)
				}
			})
		}
		m.logger.Info("[SESSION] session closed", "device", sess.device, "session", sess.id)
	}
	m.gate.reset()
	return append(fx, m.setState(StateDisconnected)...)
}

// armInactivity pushes back the auto-disconnect deadline. Caller holds m.mu.
func (m *Manager) armInactivity() {
	sess := m.sess
	if sess.notifyOnly {
		return
	}
	if sess.inactivity != nil {
		sess.inactivity.Stop()
	}
	sess.inactivityGen++
	id, gen := sess.id, sess.inactivityGen
	sess.inactivity = m.clock.AfterFunc(m.opts.Inactivity, func() {
		m.dispatch(inactivityTimeout{session: id, gen: gen})
	})
}

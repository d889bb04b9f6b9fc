// Package session implements the peripheral session manager: the single
// owner of the BLE link to an Ara light. It polls the switch, brightness and
// temperature characteristics, caches their decoded states, gates writes so
// at most one is outstanding, and drops links that have gone silent.
//
// Every state change goes through one transition function (apply) driven by
// internal events. Timer and transport callbacks only ever dispatch events,
// and events from a torn-down session are discarded, so a late poll can
// never touch a closed link.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/chaz8081/ara-light/internal/ble"
	"github.com/chaz8081/ara-light/internal/codec"
	"github.com/chaz8081/ara-light/internal/tracing"
)

// State is the manager's lifecycle state.
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	// ErrDiscovery is returned by Connect when the light does not expose
	// one of the channel characteristics.
	ErrDiscovery = errors.New("session: characteristic discovery failed")
	// ErrConnectAborted is returned by Connect and ConnectWithRetry when
	// Disconnect or a newer Connect was called while the connection was
	// being opened. The opened link has been closed again.
	ErrConnectAborted = errors.New("session: connect aborted")
)

// session is the live link. It is owned by the Manager and only touched
// with Manager.mu held.
type session struct {
	id     ulid.ULID
	device string
	conn   ble.Connection
	chars  map[codec.Channel]ble.Characteristic

	polls         map[codec.Channel]Timer
	inactivity    Timer
	inactivityGen uint64
	// notifyOnly is set when the transport cannot read characteristics.
	// Values then arrive by notification only and the inactivity watchdog
	// is off; link loss is still reported by the transport.
	notifyOnly bool
}

// Manager owns at most one session with an Ara light.
type Manager struct {
	adapter ble.Adapter
	opts    Options
	clock   Clock
	logger  *slog.Logger

	mu         sync.Mutex
	state      State
	enabled    bool
	sess       *session
	cache      map[codec.Channel]codec.Value
	gate       busyGate
	scanSeq    uint64
	scanCancel context.CancelFunc

	// connectGen is bumped by every Connect and Disconnect; a connect only
	// installs its session if the generation it started with is current.
	connectGen uint64
	// disconnects counts Disconnect calls, for ConnectWithRetry.
	disconnects uint64
}

// New creates a Manager on top of adapter.
// Panics if adapter is nil (programmer error).
func New(adapter ble.Adapter, opts Options) *Manager {
	if adapter == nil {
		panic("session: New called with nil adapter")
	}
	opts = opts.withDefaults()
	return &Manager{
		adapter: adapter,
		opts:    opts,
		clock:   opts.Clock,
		logger:  opts.Logger,
		cache:   make(map[codec.Channel]codec.Value, len(codec.Channels)),
	}
}

// Table returns the codec table the manager encodes with.
func (m *Manager) Table() *codec.Table {
	return m.opts.Table
}

// Scan discovers lights advertising the lighting service. A scan already in
// progress is cancelled and restarted.
func (m *Manager) Scan(ctx context.Context) ([]ble.Device, error) {
	if err := m.enable(); err != nil {
		return nil, err
	}

	scanCtx, cancel := context.WithTimeout(ctx, m.opts.ScanTimeout)
	defer cancel()

	m.mu.Lock()
	if m.scanCancel != nil {
		m.logger.Debug("[SESSION] restarting scan")
		m.scanCancel()
	}
	m.scanSeq++
	seq := m.scanSeq
	m.scanCancel = cancel
	var fx []effect
	if m.state == StateDisconnected {
		fx = m.setState(StateScanning)
	}
	m.mu.Unlock()
	runEffects(fx)

	devices, err := m.adapter.Scan(scanCtx, m.opts.ServiceUUID)

	m.mu.Lock()
	fx = nil
	if m.scanSeq == seq {
		m.scanCancel = nil
		if m.state == StateScanning {
			fx = m.setState(StateDisconnected)
		}
	}
	m.mu.Unlock()
	runEffects(fx)

	if err != nil {
		return nil, fmt.Errorf("session: scan: %w", err)
	}
	m.logger.Info("[SESSION] scan finished", "devices", len(devices))
	return devices, nil
}

// Connect stops any scan, replaces any existing session, and connects to
// the light with the given ID. On success polling starts immediately.
func (m *Manager) Connect(ctx context.Context, id string) error {
	if err := m.enable(); err != nil {
		return err
	}

	m.mu.Lock()
	m.connectGen++
	gen := m.connectGen
	var fx []effect
	if m.scanCancel != nil {
		m.scanCancel()
		m.scanCancel = nil
		m.scanSeq++
	}
	if m.sess != nil {
		fx = append(fx, m.teardown(true)...)
	} else if m.state == StateScanning {
		fx = append(fx, m.setState(StateDisconnected)...)
	}
	m.mu.Unlock()
	runEffects(fx)

	if m.opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.opts.ConnectTimeout)
		defer cancel()
	}

	ctx, span := tracing.StartSpan(ctx, "ble.connect", tracing.Device(id))
	sess, err := m.open(ctx, id)
	tracing.End(span, err)
	if err != nil {
		m.logger.Warn("[SESSION] connect failed", "device", id, "error", err)
		return err
	}

	sessID := sess.id
	sess.conn.OnDisconnect(func() {
		m.dispatch(linkLost{session: sessID})
	})

	m.mu.Lock()
	fx = m.apply(connected{sess: sess, gen: gen})
	installed := m.current(sessID)
	m.mu.Unlock()
	runEffects(fx)

	if !installed {
		m.logger.Info("[SESSION] connect abandoned, link closed", "device", id)
		return ErrConnectAborted
	}
	m.logger.Info("[SESSION] connected", "device", id, "session", sessID)
	return nil
}

// open connects and discovers the three channel characteristics.
func (m *Manager) open(ctx context.Context, id string) (*session, error) {
	conn, err := m.adapter.Connect(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("session: connect: %w", err)
	}

	chars := make(map[codec.Channel]ble.Characteristic, len(codec.Channels))
	for _, ch := range codec.Channels {
		char, err := m.discover(conn, ch)
		if err != nil {
			if derr := conn.Disconnect(); derr != nil {
				m.logger.Debug("[SESSION] disconnect after failed discovery", "error", derr)
			}
			return nil, fmt.Errorf("%w: %s: %w", ErrDiscovery, ch, err)
		}
		chars[ch] = char
	}

	return &session{
		id:     ulid.Make(),
		device: id,
		conn:   conn,
		chars:  chars,
		polls:  make(map[codec.Channel]Timer, len(codec.Channels)),
	}, nil
}

// discover finds ch's characteristic in the lighting service, then in the
// optional service if one is configured.
func (m *Manager) discover(conn ble.Connection, ch codec.Channel) (ble.Characteristic, error) {
	uuid := m.opts.CharUUIDs[ch]
	char, err := conn.DiscoverCharacteristic(m.opts.ServiceUUID, uuid)
	if err == nil || m.opts.OptionalServiceUUID == "" {
		return char, err
	}
	char, optErr := conn.DiscoverCharacteristic(m.opts.OptionalServiceUUID, uuid)
	if optErr != nil {
		return nil, err
	}
	m.logger.Info("[SESSION] characteristic found in optional service", "channel", ch, "service", m.opts.OptionalServiceUUID)
	return char, nil
}

// Disconnect cancels every timer of the current session and closes the
// link. A Connect still in progress is abandoned and its link closed as
// soon as it opens. Safe to call at any time, including when already
// disconnected.
func (m *Manager) Disconnect() {
	m.dispatch(disconnectRequested{})
}

// IsConnected reports whether a session exists and its link is up.
func (m *Manager) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess != nil && m.sess.conn.Connected()
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Busy reports whether a write is outstanding.
func (m *Manager) Busy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gate.busy
}

// Query returns the last known value of ch. It never touches the radio;
// ok is false until a value has been read (or optimistically written).
func (m *Manager) Query(ch codec.Channel) (codec.Value, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.cache[ch]
	return v, ok
}

// Send drives ch to v with a single one-byte write. The call returns
// immediately: with no session, or while a previous write is still
// outstanding, the command is dropped without error. Only a value the
// channel does not define is an error.
func (m *Manager) Send(ch codec.Channel, v codec.Value) error {
	_, err := m.TrySend(ch, v)
	return err
}

// TrySend is Send that also reports whether the write was issued. sent is
// false when the command was dropped for lack of a session or because the
// busy gate was held.
func (m *Manager) TrySend(ch codec.Channel, v codec.Value) (sent bool, err error) {
	b, err := m.opts.Table.Encode(ch, v)
	if err != nil {
		return false, fmt.Errorf("session: send: %w", err)
	}

	m.mu.Lock()
	if m.sess == nil {
		m.mu.Unlock()
		m.logger.Debug("[SESSION] send without session ignored", "channel", ch, "value", v)
		return false, nil
	}
	seq, ok := m.gate.acquire()
	if !ok {
		m.mu.Unlock()
		m.logger.Debug("[SESSION] send dropped, write in flight", "channel", ch, "value", v)
		return false, nil
	}
	m.gate.arm(m.clock.AfterFunc(m.opts.BusyTimeout, func() {
		m.dispatch(busyTimeout{seq: seq})
	}))
	if m.opts.OptimisticUpdates {
		m.cache[ch] = v
	}
	sessID := m.sess.id
	char := m.sess.chars[ch]
	m.mu.Unlock()

	go m.write(sessID, seq, ch, char, b)
	return true, nil
}

func (m *Manager) write(sessID ulid.ULID, seq uint64, ch codec.Channel, char ble.Characteristic, b byte) {
	_, span := tracing.StartSpan(context.Background(), "ble.write",
		tracing.Channel(ch.String()), tracing.Session(sessID.String()))
	err := char.Write([]byte{b}, m.opts.WriteWithResponse)
	tracing.End(span, err)
	m.dispatch(writeCompleted{seq: seq, ch: ch, err: err})
}

// enable powers on the adapter once.
func (m *Manager) enable() error {
	m.mu.Lock()
	enabled := m.enabled
	m.mu.Unlock()
	if enabled {
		return nil
	}
	if err := m.adapter.Enable(); err != nil {
		return fmt.Errorf("session: enable adapter: %w", err)
	}
	m.mu.Lock()
	m.enabled = true
	m.mu.Unlock()
	return nil
}

// Package bletest provides an in-memory BLE transport for tests. Each fake
// records what the code under test did to it and lets the test script what
// the peripheral reports back.
package bletest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/chaz8081/ara-light/internal/ble"
)

// ErrNotConnected is returned by characteristic operations after the fake
// link has gone down.
var ErrNotConnected = errors.New("bletest: not connected")

// Characteristic is a scriptable GATT characteristic.
type Characteristic struct {
	UUID string

	mu        sync.Mutex
	value     []byte
	readErr   error
	writeErr  error
	reads     int
	writes    [][]byte
	hold      chan struct{}
	callback  func([]byte)
	subscribe error
}

// SetValue sets the bytes returned by subsequent reads.
func (c *Characteristic) SetValue(data ...byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = append([]byte(nil), data...)
}

// SetReadError makes subsequent reads fail with err (nil clears it).
func (c *Characteristic) SetReadError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.readErr = err
}

// SetWriteError makes subsequent writes fail with err (nil clears it).
func (c *Characteristic) SetWriteError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeErr = err
}

// SetSubscribeError makes Subscribe fail with err.
func (c *Characteristic) SetSubscribeError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribe = err
}

// Hold makes subsequent writes block after being recorded, until Release.
// This simulates a peripheral that has not yet acknowledged a write.
func (c *Characteristic) Hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hold == nil {
		c.hold = make(chan struct{})
	}
}

// Release unblocks every write waiting on Hold.
func (c *Characteristic) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hold != nil {
		close(c.hold)
		c.hold = nil
	}
}

func (c *Characteristic) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reads++
	if c.readErr != nil {
		return nil, c.readErr
	}
	return append([]byte(nil), c.value...), nil
}

func (c *Characteristic) Write(data []byte, _ bool) error {
	c.mu.Lock()
	c.writes = append(c.writes, append([]byte(nil), data...))
	hold := c.hold
	err := c.writeErr
	c.mu.Unlock()

	if hold != nil {
		<-hold
	}
	return err
}

func (c *Characteristic) Subscribe(cb func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribe != nil {
		return c.subscribe
	}
	c.callback = cb
	return nil
}

// Notify delivers a notification to the subscriber, if any.
func (c *Characteristic) Notify(data ...byte) {
	c.mu.Lock()
	cb := c.callback
	c.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// Reads returns the number of reads issued.
func (c *Characteristic) Reads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reads
}

// Writes returns a copy of every payload written so far.
func (c *Characteristic) Writes() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.writes))
	copy(out, c.writes)
	return out
}

// Connection is a fake link holding a set of characteristics.
type Connection struct {
	mu           sync.Mutex
	chars        map[string]*Characteristic
	services     map[string]string // characteristic UUID -> service UUID
	missing      map[string]bool
	up           bool
	disconnects  int
	disconnectCb func()
}

// NewConnection returns a live connection exposing the three Ara
// characteristics under the lighting service.
func NewConnection() *Connection {
	c := &Connection{
		chars:    make(map[string]*Characteristic),
		services: make(map[string]string),
		missing:  make(map[string]bool),
		up:       true,
	}
	for _, uuid := range []string{ble.SwitchCharUUID, ble.BrightnessCharUUID, ble.TemperatureCharUUID} {
		c.chars[uuid] = &Characteristic{UUID: uuid}
		c.services[uuid] = ble.LightingServiceUUID
	}
	return c
}

// Char returns the characteristic with the given UUID, creating it under
// the lighting service if needed.
func (c *Connection) Char(uuid string) *Characteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[uuid]
	if !ok {
		ch = &Characteristic{UUID: uuid}
		c.chars[uuid] = ch
		c.services[uuid] = ble.LightingServiceUUID
	}
	return ch
}

// MoveTo makes charUUID discoverable only under serviceUUID.
func (c *Connection) MoveTo(charUUID, serviceUUID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.services[charUUID] = serviceUUID
}

// Remove makes discovery of uuid fail.
func (c *Connection) Remove(uuid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.missing[uuid] = true
}

func (c *Connection) DiscoverCharacteristic(serviceUUID, charUUID string) (ble.Characteristic, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.chars[charUUID]
	if !ok || c.missing[charUUID] || c.services[charUUID] != serviceUUID {
		return nil, fmt.Errorf("bletest: characteristic %s not found in service %s", charUUID, serviceUUID)
	}
	return ch, nil
}

func (c *Connection) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.up
}

func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.up = false
	c.disconnects++
	return nil
}

func (c *Connection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// Disconnects returns how many times Disconnect was called.
func (c *Connection) Disconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disconnects
}

// SimulateDrop marks the link down and fires the disconnect callback, as
// the radio does when the peripheral goes out of range.
func (c *Connection) SimulateDrop() {
	c.mu.Lock()
	c.up = false
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// Adapter is a fake BLE adapter.
type Adapter struct {
	mu          sync.Mutex
	devices     []ble.Device
	enabled     int
	scans       int
	blockScan   bool
	connectErr  error
	connects    int
	next        *Connection
	connection  *Connection
	lastService string
}

// NewAdapter returns an adapter whose scans report devices.
func NewAdapter(devices ...ble.Device) *Adapter {
	return &Adapter{devices: devices}
}

// BlockScans makes Scan wait for its context to end before returning.
func (a *Adapter) BlockScans() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.blockScan = true
}

// SetConnectError makes subsequent connects fail with err (nil clears it).
func (a *Adapter) SetConnectError(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connectErr = err
}

// SetNextConnection makes the next Connect return conn instead of a fresh
// connection.
func (a *Adapter) SetNextConnection(conn *Connection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next = conn
}

func (a *Adapter) Enable() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled++
	return nil
}

func (a *Adapter) Scan(ctx context.Context, serviceUUID string) ([]ble.Device, error) {
	a.mu.Lock()
	a.scans++
	a.lastService = serviceUUID
	block := a.blockScan
	devices := append([]ble.Device(nil), a.devices...)
	a.mu.Unlock()

	if block {
		<-ctx.Done()
	}
	return devices, nil
}

func (a *Adapter) Connect(_ context.Context, _ string) (ble.Connection, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.connects++
	if a.connectErr != nil {
		return nil, a.connectErr
	}
	conn := a.next
	a.next = nil
	if conn == nil {
		conn = NewConnection()
	}
	a.connection = conn
	return conn, nil
}

// Latest returns the most recently created connection.
func (a *Adapter) Latest() *Connection {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connection
}

// Enabled returns how many times Enable was called.
func (a *Adapter) Enabled() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.enabled
}

// Scans returns how many scans were started.
func (a *Adapter) Scans() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.scans
}

// Connects returns how many connects were attempted.
func (a *Adapter) Connects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connects
}

// LastScanService returns the service UUID passed to the last scan.
func (a *Adapter) LastScanService() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lastService
}

var (
	_ ble.Adapter        = (*Adapter)(nil)
	_ ble.Connection     = (*Connection)(nil)
	_ ble.Characteristic = (*Characteristic)(nil)
)

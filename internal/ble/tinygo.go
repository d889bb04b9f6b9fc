//go:build linux || darwin || windows

package ble

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"tinygo.org/x/bluetooth"
)

// readBufSize covers the default ATT payload; Ara characteristics are one byte.
const readBufSize = 20

// TinygoAdapter wraps tinygo-org/bluetooth (BlueZ on Linux, CoreBluetooth
// on macOS, WinRT on Windows). Device IDs are whatever bluetooth.Address
// prints on the host: a MAC address on Linux and Windows, a peripheral UUID
// on macOS.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinygoConnection // keyed by bluetooth.Address.String()
}

// NewTinygoAdapter creates a new BLE adapter using the host's default radio.
func NewTinygoAdapter() *TinygoAdapter {
	return &TinygoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinygoConnection),
	}
}

func (a *TinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// The adapter-level handler is the only place tinygo/bluetooth reports
	// peripheral-initiated disconnects.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if !connected {
			a.linkDown(device.Address.String())
		}
	})

	return nil
}

// linkDown forgets the connection registered under key and fires its
// disconnect callback.
func (a *TinygoAdapter) linkDown(key string) {
	a.mu.Lock()
	conn, ok := a.connections[key]
	delete(a.connections, key)
	a.mu.Unlock()
	if ok {
		conn.markDown()
	}
}

// release forgets conn if it is still the one registered under its key.
func (a *TinygoAdapter) release(conn *tinygoConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connections[conn.key] == conn {
		delete(a.connections, conn.key)
	}
}

func (a *TinygoAdapter) Scan(ctx context.Context, serviceUUID string) ([]Device, error) {
	uuid, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: parse service UUID: %w", err)
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]bool)

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			if err := a.adapter.StopScan(); err != nil {
				slog.Debug("[BLE] stop scan", "error", err)
			}
		case <-done:
		}
	}()

	err = a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		if !result.HasServiceUUID(uuid) {
			return
		}
		id := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		if seen[id] {
			return
		}
		seen[id] = true
		devices = append(devices, Device{
			Name: result.LocalName(),
			ID:   id,
			RSSI: int(result.RSSI),
		})
		slog.Debug("[BLE] discovered", "id", id, "name", result.LocalName(), "rssi", result.RSSI)
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

func (a *TinygoAdapter) Connect(ctx context.Context, id string) (Connection, error) {
	addr, err := parseAddress(id)
	if err != nil {
		return nil, fmt.Errorf("ble: device address %q: %w", id, err)
	}
	key := addr.String()

	// tinygo/bluetooth's Connect blocks with its own timeout; ctx only
	// bounds how long we wait for it.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("ble: connect to %s: %w", key, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", key, result.err)
		}
		conn := &tinygoConnection{device: result.device, owner: a, key: key}
		conn.up.Store(true)

		a.mu.Lock()
		a.connections[key] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// Compile-time check that TinygoAdapter implements Adapter.
var _ Adapter = (*TinygoAdapter)(nil)

type tinygoConnection struct {
	device bluetooth.Device
	owner  *TinygoAdapter
	key    string
	up     atomic.Bool

	mu           sync.Mutex
	disconnectCb func()
	services     map[string]bluetooth.DeviceService
}

func (c *tinygoConnection) service(serviceUUID string) (bluetooth.DeviceService, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if svc, ok := c.services[serviceUUID]; ok {
		return svc, nil
	}

	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return bluetooth.DeviceService{}, err
	}
	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: discover service %s: %w", serviceUUID, err)
	}
	if len(svcs) == 0 {
		return bluetooth.DeviceService{}, fmt.Errorf("ble: service %s not found", serviceUUID)
	}
	if c.services == nil {
		c.services = make(map[string]bluetooth.DeviceService)
	}
	c.services[serviceUUID] = svcs[0]
	return svcs[0], nil
}

func (c *tinygoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svc, err := c.service(serviceUUID)
	if err != nil {
		return nil, err
	}

	chars, err := svc.DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &tinygoCharacteristic{char: chars[0]}, nil
}

func (c *tinygoConnection) Connected() bool {
	return c.up.Load()
}

func (c *tinygoConnection) Disconnect() error {
	c.up.Store(false)
	if c.owner != nil {
		c.owner.release(c)
	}
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

// markDown records a peripheral-initiated disconnect and fires the callback.
func (c *tinygoConnection) markDown() {
	if !c.up.Swap(false) {
		return
	}
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// tinygoCharacteristic wraps a discovered characteristic. Read and Write
// live in the per-platform files because the GATT client API differs
// between BlueZ, CoreBluetooth and WinRT.
type tinygoCharacteristic struct {
	char bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		cb(append([]byte(nil), buf...))
	})
}

// Package ble provides the Bluetooth Low Energy transport used to talk to an
// Ara light. It defines small capability interfaces that the session manager
// depends on, and an implementation backed by tinygo.org/x/bluetooth.
package ble

import (
	"context"
	"errors"
)

// Ara light BLE UUIDs.
const (
	LightingServiceUUID = "ffe8badc-e1cb-46c6-9ad9-631ea7cbadff"
	OptionalServiceUUID = "dd649f02-14fe-11e5-b60b-1697f925ecdd"

	SwitchCharUUID      = "00a26834-5cf4-48e5-ae1c-9e1234c03e00"
	BrightnessCharUUID  = "bbe8badc-e1cb-46c6-9ad9-631ea7cba2bb"
	TemperatureCharUUID = "cce8badc-e1cb-46c6-9ad9-631ea7cba2cc"
)

// ErrReadUnsupported is returned by Characteristic.Read on hosts whose BLE
// stack cannot issue characteristic reads. Values then arrive only through
// Subscribe.
var ErrReadUnsupported = errors.New("ble: characteristic read not supported on this host")

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Read returns the current value of the characteristic, or
	// ErrReadUnsupported.
	Read() ([]byte, error)
	// Write sends data to the characteristic, waiting for the peripheral's
	// acknowledgement when withResponse is set.
	Write(data []byte, withResponse bool) error
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	// ID is the address used to connect: a MAC address on Linux, a
	// CoreBluetooth UUID on macOS.
	ID   string
	RSSI int
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Connected reports whether the link is still up.
	Connected() bool
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the peripheral drops
	// the connection.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan discovers BLE peripherals advertising the given service UUID.
	// Returns discovered devices once ctx is cancelled or times out.
	Scan(ctx context.Context, serviceUUID string) ([]Device, error)
	// Connect establishes a connection to the device with the given ID.
	Connect(ctx context.Context, id string) (Connection, error)
}

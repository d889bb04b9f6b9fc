package ble

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

// parseAddress parses a CoreBluetooth peripheral UUID. macOS never exposes
// the peripheral's MAC address.
func parseAddress(id string) (bluetooth.Address, error) {
	uuid, err := bluetooth.ParseUUID(strings.TrimSpace(id))
	if err != nil {
		return bluetooth.Address{}, err
	}
	return bluetooth.Address{UUID: uuid}, nil
}

// Read is not available: tinygo's CoreBluetooth client has no read call.
// The session manager falls back to notifications.
func (c *tinygoCharacteristic) Read() ([]byte, error) {
	return nil, ErrReadUnsupported
}

func (c *tinygoCharacteristic) Write(data []byte, withResponse bool) error {
	var err error
	if withResponse {
		_, err = c.char.Write(data)
	} else {
		_, err = c.char.WriteWithoutResponse(data)
	}
	return err
}

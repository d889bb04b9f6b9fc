package ble

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

// parseAddress accepts a MAC address in either case. BlueZ only parses the
// upper-case form.
func parseAddress(id string) (bluetooth.Address, error) {
	mac, err := bluetooth.ParseMAC(strings.ToUpper(strings.TrimSpace(id)))
	if err != nil {
		return bluetooth.Address{}, err
	}
	return bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}}, nil
}

func (c *tinygoCharacteristic) Read() ([]byte, error) {
	buf := make([]byte, readBufSize)
	n, err := c.char.Read(buf)
	if err != nil {
		return nil, err
	}
	// BlueZ reports the full value length even when it exceeds buf.
	return buf[:min(n, len(buf))], nil
}

// Write always goes through WriteWithoutResponse: BlueZ exposes no separate
// request write here, and its WriteValue call without a "type" option lets
// the stack pick a write request when the characteristic supports one, so
// withResponse has no effect.
func (c *tinygoCharacteristic) Write(data []byte, _ bool) error {
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

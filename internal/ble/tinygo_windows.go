package ble

import (
	"strings"

	"tinygo.org/x/bluetooth"
)

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
	return buf[:min(n, len(buf))], nil
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

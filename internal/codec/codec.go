// Package codec translates between the semantic states of an Ara light
// (switch, brightness, color temperature) and the single-byte values the
// peripheral exchanges on its GATT characteristics.
package codec

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Channel is one logical sensor/actuator exposed by the light.
type Channel int

const (
	Switch Channel = iota
	Brightness
	Temperature
)

// Channels lists every channel in polling order.
var Channels = []Channel{Switch, Brightness, Temperature}

func (c Channel) String() string {
	switch c {
	case Switch:
		return "switch"
	case Brightness:
		return "brightness"
	case Temperature:
		return "temperature"
	default:
		return fmt.Sprintf("channel(%d)", int(c))
	}
}

// Value is a semantic state. Writes use the same values: a command is the
// state the channel should be driven to.
type Value string

const (
	On  Value = "on"
	Off Value = "off"

	Dull      Value = "dull"
	Medium    Value = "medium"
	Bright    Value = "bright"
	Brightest Value = "brightest"

	Cool    Value = "cool"
	Neutral Value = "neutral"
	Warm    Value = "warm"
)

var (
	// ErrUnknownChannel is returned for a channel the table does not define.
	ErrUnknownChannel = errors.New("codec: unknown channel")
	// ErrUnknownValue is returned for a value the channel does not define.
	ErrUnknownValue = errors.New("codec: unknown value")
	// ErrDuplicateCode is returned by NewTable when two values of one
	// channel share a byte.
	ErrDuplicateCode = errors.New("codec: duplicate code")
)

// Table is a firmware-specific mapping between values and wire bytes.
// A Table is immutable after construction and safe for concurrent use.
type Table struct {
	name   string
	encode map[Channel]map[Value]byte
	decode map[Channel]map[byte]Value
}

// NewTable builds a Table from per-channel encode maps. Every channel's
// byte values must be distinct so that decoding is the exact inverse of
// encoding.
func NewTable(name string, codes map[Channel]map[Value]byte) (*Table, error) {
	t := &Table{
		name:   name,
		encode: make(map[Channel]map[Value]byte, len(codes)),
		decode: make(map[Channel]map[byte]Value, len(codes)),
	}
	for ch, values := range codes {
		enc := make(map[Value]byte, len(values))
		dec := make(map[byte]Value, len(values))
		for v, b := range values {
			if prev, ok := dec[b]; ok {
				return nil, fmt.Errorf("%w: %s byte 0x%02x used by %q and %q", ErrDuplicateCode, ch, b, prev, v)
			}
			enc[v] = b
			dec[b] = v
		}
		t.encode[ch] = enc
		t.decode[ch] = dec
	}
	return t, nil
}

// Name returns the profile name the table was built for.
func (t *Table) Name() string { return t.name }

// Encode returns the wire byte for driving ch to v.
func (t *Table) Encode(ch Channel, v Value) (byte, error) {
	values, ok := t.encode[ch]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownChannel, ch)
	}
	b, ok := values[v]
	if !ok {
		return 0, fmt.Errorf("%w: %q for %s", ErrUnknownValue, v, ch)
	}
	return b, nil
}

// Decode maps a wire byte to a value. Bytes outside the table (a light in
// the middle of a level transition reports intermediate levels) yield false.
func (t *Table) Decode(ch Channel, b byte) (Value, bool) {
	v, ok := t.decode[ch][b]
	return v, ok
}

// DecodePayload decodes a raw characteristic read. Only single-byte
// payloads carry a state.
func (t *Table) DecodePayload(ch Channel, payload []byte) (Value, bool) {
	if len(payload) != 1 {
		return "", false
	}
	return t.Decode(ch, payload[0])
}

// Values returns the values defined for ch, ordered by wire byte.
func (t *Table) Values(ch Channel) []Value {
	values := make([]Value, 0, len(t.encode[ch]))
	for v := range t.encode[ch] {
		values = append(values, v)
	}
	enc := t.encode[ch]
	sort.Slice(values, func(i, j int) bool { return enc[values[i]] < enc[values[j]] })
	return values
}

// ParseChannel parses a channel name as printed by Channel.String.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "switch", "light", "onoff":
		return Switch, nil
	case "brightness":
		return Brightness, nil
	case "temperature", "colortemperature", "temp":
		return Temperature, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, s)
}

// ParseValue parses s as a value of ch under this table.
func (t *Table) ParseValue(ch Channel, s string) (Value, error) {
	v := Value(strings.ToLower(strings.TrimSpace(s)))
	if _, err := t.Encode(ch, v); err != nil {
		return "", err
	}
	return v, nil
}

package codec

import (
	"encoding/base64"
	"fmt"
)

// DecodeBase64 decodes a base64 characteristic payload as delivered by
// Scratch Link style transports.
func (t *Table) DecodeBase64(ch Channel, payload string) (Value, bool) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return "", false
	}
	return t.DecodePayload(ch, raw)
}

// EncodeBase64 returns the base64 form of the single-byte write for v.
func (t *Table) EncodeBase64(ch Channel, v Value) (string, error) {
	b, err := t.Encode(ch, v)
	if err != nil {
		return "", fmt.Errorf("codec: encode base64: %w", err)
	}
	return base64.StdEncoding.EncodeToString([]byte{b}), nil
}

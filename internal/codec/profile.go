package codec

import (
	"fmt"
	"sort"
)

// Firmware profile names.
const (
	ProfileV2 = "v2"
	ProfileV3 = "v3"

	// DefaultProfile is the canonical table for current firmware.
	DefaultProfile = ProfileV3
)

// Switch and temperature codes have not changed across firmware revisions.
var (
	switchCodes = map[Value]byte{
		On:  0x01,
		Off: 0x00,
	}
	temperatureCodes = map[Value]byte{
		Cool:    0x64,
		Neutral: 0x32,
		Warm:    0x00,
	}
)

var profileCodes = map[string]map[Channel]map[Value]byte{
	ProfileV2: {
		Switch: switchCodes,
		Brightness: {
			Dull:   0x05,
			Medium: 0x10,
			Bright: 0x64,
		},
		Temperature: temperatureCodes,
	},
	ProfileV3: {
		Switch: switchCodes,
		Brightness: {
			Dull:      0x0F,
			Medium:    0x1E,
			Bright:    0x3C,
			Brightest: 0x64,
		},
		Temperature: temperatureCodes,
	},
}

// Profile returns the table for a named firmware revision.
func Profile(name string) (*Table, error) {
	codes, ok := profileCodes[name]
	if !ok {
		return nil, fmt.Errorf("codec: unknown firmware profile %q (known: %v)", name, Profiles())
	}
	return NewTable(name, codes)
}

// Profiles returns the known firmware profile names.
func Profiles() []string {
	names := make([]string, 0, len(profileCodes))
	for name := range profileCodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

package config

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseAddress decodes a hex-encoded 20-byte account address. A leading 0x
// prefix is accepted.
func ParseAddress(value string) ([20]byte, error) {
	var out [20]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(value), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return out, fmt.Errorf("invalid address %q: %w", value, err)
	}
	if len(raw) != 20 {
		return out, fmt.Errorf("address must be 20 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

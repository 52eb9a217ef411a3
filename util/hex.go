package leaseutil

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

// Formats bytes as lower-case hex octets separated with colons, e.g.
// 01:0a:0b. This is the form used for client identifiers and DUIDs in
// the logs, the configuration and the helper program files.
func FormatHexColon(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	var builder strings.Builder
	builder.Grow(len(data) * 3)
	for i, b := range data {
		if i > 0 {
			builder.WriteByte(':')
		}
		builder.WriteString(hex.EncodeToString([]byte{b}))
	}
	return builder.String()
}

// Parses hex octets separated with colons, dashes or nothing. Single-digit
// octets are accepted when separators are used (e.g. 1:a:b).
func ParseHexColon(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, errors.New("empty hex string")
	}
	var octets []string
	switch {
	case strings.Contains(value, ":"):
		octets = strings.Split(value, ":")
	case strings.Contains(value, "-"):
		octets = strings.Split(value, "-")
	default:
		if len(value)%2 != 0 {
			return nil, errors.Errorf("hex string %s has an odd length", value)
		}
		data, err := hex.DecodeString(value)
		return data, errors.Wrapf(err, "invalid hex string %s", value)
	}
	data := make([]byte, 0, len(octets))
	for _, octet := range octets {
		if len(octet) == 1 {
			octet = "0" + octet
		}
		if len(octet) != 2 {
			return nil, errors.Errorf("invalid octet '%s' in %s", octet, value)
		}
		b, err := hex.DecodeString(octet)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid octet '%s' in %s", octet, value)
		}
		data = append(data, b[0])
	}
	return data, nil
}

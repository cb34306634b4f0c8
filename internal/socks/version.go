package socks

import (
	"errors"
	"fmt"
	"strings"
)

// Version selects the SOCKS protocol variant spoken to the proxy.
type Version uint8

const (
	// V5 is SOCKS 5 (RFC 1928). It is the zero value so an unset Version
	// means SOCKS 5.
	V5 Version = iota
	// V4 is SOCKS 4. Destinations must be IPv4 literals.
	V4
	// V4A is SOCKS 4a, which lets the proxy resolve hostnames.
	V4A
)

// ParseVersion parses "4", "4a" or "5" (case-insensitive, optional "socks"
// prefix).
func ParseVersion(s string) (Version, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	if norm == "" {
		return 0, errors.New("empty socks version")
	}
	switch strings.TrimPrefix(norm, "socks") {
	case "5", "":
		return V5, nil
	case "4":
		return V4, nil
	case "4a":
		return V4A, nil
	default:
		return 0, fmt.Errorf("unknown socks version %q", s)
	}
}

func (v Version) String() string {
	switch v {
	case V5:
		return "5"
	case V4:
		return "4"
	case V4A:
		return "4a"
	default:
		return fmt.Sprintf("Version(%d)", uint8(v))
	}
}

// wireByte is the VER byte sent at the start of every request.
func (v Version) wireByte() byte {
	switch v {
	case V4, V4A:
		return version4
	default:
		return version5
	}
}

// Set implements pflag.Value.
func (v *Version) Set(s string) error {
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Type implements pflag.Value.
func (v *Version) Type() string {
	return "version"
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so config files can say
// version: "4a".
func (v *Version) UnmarshalText(b []byte) error {
	return v.Set(string(b))
}

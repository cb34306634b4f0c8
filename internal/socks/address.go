package socks

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"

	txsocks5 "github.com/txthinking/socks5"
)

const (
	version4   byte = 0x04
	version5   byte = 0x05
	cmdConnect byte = 0x01

	socks4Granted byte = 0x5a
)

// AddrType is the ATYP tag of a SOCKS 5 address field.
type AddrType byte

const (
	AddrIPv4   AddrType = 0x01
	AddrDomain AddrType = 0x03
	// AddrIPv6 is only ever decoded; IPv6 destinations are refused.
	AddrIPv6 AddrType = 0x04
)

func (t AddrType) String() string {
	switch t {
	case AddrIPv4:
		return "ipv4"
	case AddrDomain:
		return "domain"
	case AddrIPv6:
		return "ipv6"
	default:
		return fmt.Sprintf("AddrType(0x%02x)", byte(t))
	}
}

// socks4aMarker is the deliberately invalid IPv4 address 0.0.0.1 that tells
// a SOCKS 4a proxy to read the hostname after the user id.
var socks4aMarker = [4]byte{0, 0, 0, 1}

// Addr is a host and port: a destination on the way out, a bound address on
// the way back.
type Addr struct {
	Host string
	Port uint16
}

// ParseAddr splits a "host:port" string.
func ParseAddr(address string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return Addr{}, err
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("invalid port %q: %w", portStr, err)
	}
	return Addr{Host: host, Port: uint16(port)}, nil
}

func (a Addr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// IsIPv6Literal reports whether host looks like an IPv6 address. Any colon
// counts, bracketed or not.
func IsIPv6Literal(host string) bool {
	return strings.Contains(host, ":")
}

// IsIPv4Literal reports whether host is a dotted-quad IPv4 address.
func IsIPv4Literal(host string) bool {
	_, ok := parseIPv4(host)
	return ok
}

func parseIPv4(host string) ([4]byte, bool) {
	ip, err := netip.ParseAddr(host)
	if err != nil || !ip.Is4() {
		return [4]byte{}, false
	}
	return ip.As4(), true
}

// EncodeAddr returns the address field of a CONNECT request for v.
//
// For V5 this is the ATYP tag followed by the address. For V4 and V4A it is
// the 4-byte DSTIP; a V4A hostname is encoded as 0.0.0.1 and EncodeRequest
// appends the name itself after the user id.
func EncodeAddr(v Version, host string) ([]byte, error) {
	if IsIPv6Literal(host) {
		return nil, newError(v, UnsupportedAddressFamily, 0, fmt.Errorf("ipv6 destination %q", host))
	}
	ip, isIPv4 := parseIPv4(host)

	switch v {
	case V5:
		if isIPv4 {
			return append([]byte{byte(AddrIPv4)}, ip[:]...), nil
		}
		if host == "" || len(host) > 255 {
			return nil, newError(v, UnsupportedAddressFamily, 0, fmt.Errorf("hostname length %d out of range", len(host)))
		}
		b := make([]byte, 0, 2+len(host))
		b = append(b, byte(AddrDomain), byte(len(host)))
		return append(b, host...), nil
	case V4:
		if !isIPv4 {
			return nil, newError(v, UnsupportedAddressFamily, 0, fmt.Errorf("destination %q is not an ipv4 address", host))
		}
		return ip[:], nil
	case V4A:
		if isIPv4 {
			return ip[:], nil
		}
		if host == "" || strings.IndexByte(host, 0) >= 0 {
			return nil, newError(v, UnsupportedAddressFamily, 0, fmt.Errorf("invalid hostname %q", host))
		}
		m := socks4aMarker
		return m[:], nil
	default:
		return nil, fmt.Errorf("unknown socks version %v", v)
	}
}

// EncodeRequest builds a complete CONNECT request for dst. userID is only
// used by V4 and V4A; it may be empty.
//
//	V5:     05 01 00 ATYP ADDR PORT
//	V4/4A:  04 01 PORT DSTIP USERID 00 [HOST 00]
func EncodeRequest(v Version, dst Addr, userID string) ([]byte, error) {
	addr, err := EncodeAddr(v, dst.Host)
	if err != nil {
		return nil, err
	}

	switch v {
	case V5:
		return encodeRequest5(cmdConnect, addr, dst.Port)
	case V4, V4A:
		if strings.IndexByte(userID, 0) >= 0 {
			return nil, errors.New("socks4 user id contains a NUL byte")
		}
		b := make([]byte, 0, 8+len(userID)+1+len(dst.Host)+1)
		b = append(b, v.wireByte(), cmdConnect)
		b = binary.BigEndian.AppendUint16(b, dst.Port)
		b = append(b, addr...)
		b = append(b, userID...)
		b = append(b, 0x00)
		if v == V4A && !IsIPv4Literal(dst.Host) {
			b = append(b, dst.Host...)
			b = append(b, 0x00)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown socks version %v", v)
	}
}

// encodeRequest5 frames a SOCKS 5 request for cmd. addr is an address field
// from EncodeAddr.
func encodeRequest5(cmd byte, addr []byte, port uint16) ([]byte, error) {
	atyp, dstAddr := addr[0], addr[1:]
	if AddrType(atyp) == AddrDomain {
		// NewRequest adds the length prefix itself.
		dstAddr = dstAddr[1:]
	}
	var dstPort [2]byte
	binary.BigEndian.PutUint16(dstPort[:], port)

	var buf bytes.Buffer
	if _, err := txsocks5.NewRequest(cmd, atyp, dstAddr, dstPort[:]).WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeAddrType maps an ATYP byte read from a reply.
func DecodeAddrType(tag byte) (AddrType, error) {
	switch t := AddrType(tag); t {
	case AddrIPv4, AddrDomain, AddrIPv6:
		return t, nil
	default:
		return 0, newError(V5, MalformedReply, tag, nil)
	}
}

// ReadAddr reads an address of type t from r and renders it as a string.
// IPv6 addresses are rendered as eight colon-separated groups of four hex
// digits. I/O errors are returned unwrapped.
func ReadAddr(r io.Reader, t AddrType) (string, error) {
	switch t {
	case AddrIPv4:
		var b [4]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		return netip.AddrFrom4(b).String(), nil
	case AddrDomain:
		var n [1]byte
		if _, err := io.ReadFull(r, n[:]); err != nil {
			return "", err
		}
		b := make([]byte, int(n[0]))
		if _, err := io.ReadFull(r, b); err != nil {
			return "", err
		}
		return string(b), nil
	case AddrIPv6:
		var b [16]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return "", err
		}
		var sb strings.Builder
		for i := 0; i < len(b); i += 2 {
			if i > 0 {
				sb.WriteByte(':')
			}
			fmt.Fprintf(&sb, "%02x%02x", b[i], b[i+1])
		}
		return sb.String(), nil
	default:
		return "", newError(V5, MalformedReply, byte(t), nil)
	}
}

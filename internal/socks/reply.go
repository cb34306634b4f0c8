package socks

import (
	"encoding/binary"
	"errors"
	"io"
	"net/netip"
)

// ReadReply reads the proxy's answer to a CONNECT (or RESOLVE) request and
// returns the bound address.
//
// A stream that closes before the first byte, or any other read failure, is
// ServerUnreachable. A V5 status other than success is ConnectRejected with
// the status in Code. SOCKS 4 replies carry no detailed reason: anything but
// 00 5A is ConnectRejected with the CD byte in Code.
func ReadReply(r io.Reader, v Version) (Addr, error) {
	switch v {
	case V5:
		return readReply5(r)
	case V4, V4A:
		return readReply4(r, v)
	default:
		return Addr{}, errors.New("unknown socks version")
	}
}

func readReply5(r io.Reader) (Addr, error) {
	// VER REP RSV ATYP
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Addr{}, readError(V5, err)
	}
	if hdr[0] != version5 {
		return Addr{}, newError(V5, VersionMismatch, hdr[0], nil)
	}
	if hdr[1] != byte(ReplySucceeded) {
		return Addr{}, newError(V5, ConnectRejected, hdr[1], nil)
	}

	atyp, err := DecodeAddrType(hdr[3])
	if err != nil {
		return Addr{}, err
	}
	host, err := ReadAddr(r, atyp)
	if err != nil {
		return Addr{}, readError(V5, err)
	}

	var port [2]byte
	if _, err := io.ReadFull(r, port[:]); err != nil {
		return Addr{}, readError(V5, err)
	}
	return Addr{Host: host, Port: binary.BigEndian.Uint16(port[:])}, nil
}

func readReply4(r io.Reader, v Version) (Addr, error) {
	// VN CD DSTPORT DSTIP
	var b [8]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return Addr{}, readError(v, err)
	}
	if b[0] != 0x00 || b[1] != socks4Granted {
		return Addr{}, newError(v, ConnectRejected, b[1], nil)
	}
	return Addr{
		Host: netip.AddrFrom4([4]byte(b[4:8])).String(),
		Port: binary.BigEndian.Uint16(b[2:4]),
	}, nil
}

// readError turns a failed read into a ServerUnreachable error, unless it is
// already a *ProtocolError.
func readError(v Version, err error) error {
	var pe *ProtocolError
	if errors.As(err, &pe) {
		return err
	}
	return newError(v, ServerUnreachable, 0, err)
}

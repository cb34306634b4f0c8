package socks

import (
	"errors"
	"fmt"
	"io"
)

// Tor's SOCKS 5 extension commands. They are not part of RFC 1928 and a
// standard proxy will reject them, so nothing in this package sends them
// unless ClientResolve is called explicitly.
//
// See https://spec.torproject.org/socks-extensions.html.
const (
	CmdTorResolve    byte = 0xf0
	CmdTorResolvePTR byte = 0xf1
)

// EncodeResolveRequest builds a Tor RESOLVE request for a hostname, or a
// RESOLVE_PTR request when host is an IPv4 literal. The port is always 0.
//
//	05 F0 00 03 LEN HOST 00 00
//	05 F1 00 01 IPV4     00 00
func EncodeResolveRequest(host string) ([]byte, error) {
	addr, err := EncodeAddr(V5, host)
	if err != nil {
		return nil, err
	}

	cmd := CmdTorResolve
	if AddrType(addr[0]) == AddrIPv4 {
		cmd = CmdTorResolvePTR
	}

	return encodeRequest5(cmd, addr, 0)
}

// ClientResolve asks a Tor SOCKS port to resolve host (or reverse-resolve an
// IPv4 literal) and returns the answer. It performs method negotiation first,
// so rw must be a fresh connection to the proxy.
func ClientResolve(rw io.ReadWriter, auth Auth, host string) (string, error) {
	if host == "" {
		return "", errors.New("resolve: empty host")
	}
	req, err := EncodeResolveRequest(host)
	if err != nil {
		return "", err
	}
	if err := ClientNegotiate(rw, auth); err != nil {
		return "", err
	}
	if _, err := rw.Write(req); err != nil {
		return "", newError(V5, ServerUnreachable, 0, fmt.Errorf("write resolve: %w", err))
	}

	bound, err := ReadReply(rw, V5)
	if err != nil {
		return "", err
	}
	return bound.Host, nil
}

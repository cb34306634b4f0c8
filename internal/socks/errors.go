package socks

import (
	"fmt"
	"strconv"
)

// ErrorKind classifies a handshake failure.
type ErrorKind uint8

const (
	_ ErrorKind = iota
	// ServerUnreachable means the proxy could not be reached or closed the
	// stream mid-handshake.
	ServerUnreachable
	// VersionMismatch means the proxy answered with an unexpected VER byte.
	VersionMismatch
	// AuthMethodUnsupported means the proxy did not accept the offered
	// authentication method.
	AuthMethodUnsupported
	// AuthFailed means username/password authentication was rejected.
	AuthFailed
	// ConnectRejected means the proxy refused the CONNECT request. Code holds
	// the raw reply byte.
	ConnectRejected
	// MalformedReply means the proxy sent bytes that do not parse.
	MalformedReply
	// UnsupportedAddressFamily means the destination cannot be encoded for the
	// selected version. It is raised before any bytes are written.
	UnsupportedAddressFamily
)

func (k ErrorKind) String() string {
	switch k {
	case ServerUnreachable:
		return "server unreachable"
	case VersionMismatch:
		return "version mismatch"
	case AuthMethodUnsupported:
		return "auth method unsupported"
	case AuthFailed:
		return "authentication failed"
	case ConnectRejected:
		return "connect rejected"
	case MalformedReply:
		return "malformed reply"
	case UnsupportedAddressFamily:
		return "unsupported address family"
	default:
		return "ErrorKind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Sentinels for errors.Is. Any *ProtocolError of the same Kind matches.
var (
	ErrServerUnreachable        = &ProtocolError{Kind: ServerUnreachable}
	ErrVersionMismatch          = &ProtocolError{Kind: VersionMismatch}
	ErrAuthMethodUnsupported    = &ProtocolError{Kind: AuthMethodUnsupported}
	ErrAuthFailed               = &ProtocolError{Kind: AuthFailed}
	ErrConnectRejected          = &ProtocolError{Kind: ConnectRejected}
	ErrMalformedReply           = &ProtocolError{Kind: MalformedReply}
	ErrUnsupportedAddressFamily = &ProtocolError{Kind: UnsupportedAddressFamily}
)

// ProtocolError is returned by every handshake step.
type ProtocolError struct {
	Kind ErrorKind
	// Version is the protocol variant in use when the error occurred.
	Version Version
	// Code is the raw byte read from the wire, when there is one: the status
	// for ConnectRejected and AuthFailed, the method for
	// AuthMethodUnsupported, the VER byte for VersionMismatch, the ATYP for
	// MalformedReply.
	Code byte
	// Err is the underlying cause, if any.
	Err error
}

func (e *ProtocolError) Error() string {
	msg := "socks" + e.Version.String() + ": " + e.Kind.String()
	switch e.Kind {
	case ConnectRejected:
		if e.Version == V5 {
			msg += ": " + ReplyCode(e.Code).String()
		} else {
			msg += fmt.Sprintf(": status 0x%02x", e.Code)
		}
	case VersionMismatch, AuthMethodUnsupported, AuthFailed:
		msg += fmt.Sprintf(" (0x%02x)", e.Code)
	case MalformedReply:
		if e.Err == nil {
			msg += fmt.Sprintf(" (0x%02x)", e.Code)
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *ProtocolError of the same Kind. A target
// with a non-zero Code must also match the code.
func (e *ProtocolError) Is(target error) bool {
	t, ok := target.(*ProtocolError)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == 0 || t.Code == e.Code
}

// Rejected returns a target for errors.Is matching a CONNECT rejected with
// code.
func Rejected(code ReplyCode) error {
	return &ProtocolError{Kind: ConnectRejected, Code: byte(code)}
}

// ReplyCode is the REP field of a SOCKS 5 reply.
type ReplyCode byte

const (
	ReplySucceeded               ReplyCode = 0x00
	ReplyGeneralFailure          ReplyCode = 0x01
	ReplyNotAllowed              ReplyCode = 0x02
	ReplyNetworkUnreachable      ReplyCode = 0x03
	ReplyHostUnreachable         ReplyCode = 0x04
	ReplyConnectionRefused       ReplyCode = 0x05
	ReplyTTLExpired              ReplyCode = 0x06
	ReplyCommandNotSupported     ReplyCode = 0x07
	ReplyAddressTypeNotSupported ReplyCode = 0x08
)

func (c ReplyCode) String() string {
	switch c {
	case ReplySucceeded:
		return "succeeded"
	case ReplyGeneralFailure:
		return "general SOCKS server failure"
	case ReplyNotAllowed:
		return "connection not allowed by ruleset"
	case ReplyNetworkUnreachable:
		return "network unreachable"
	case ReplyHostUnreachable:
		return "host unreachable"
	case ReplyConnectionRefused:
		return "connection refused"
	case ReplyTTLExpired:
		return "TTL expired"
	case ReplyCommandNotSupported:
		return "command not supported"
	case ReplyAddressTypeNotSupported:
		return "address type not supported"
	default:
		return fmt.Sprintf("unknown reply 0x%02x", byte(c))
	}
}

func newError(v Version, kind ErrorKind, code byte, err error) *ProtocolError {
	return &ProtocolError{Kind: kind, Version: v, Code: code, Err: err}
}

package socks

import (
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// Auth configures optional username/password authentication. For SOCKS 4 and
// 4a the username is sent as the USERID field and the password is ignored.
type Auth struct {
	Username string
	Password string
}

func (a Auth) enabled() bool {
	return a.Username != "" || a.Password != ""
}

// validate enforces the single-byte length fields of RFC 1929.
func (a Auth) validate() error {
	if len(a.Username) > 255 {
		return fmt.Errorf("socks username is %d bytes, limit is 255", len(a.Username))
	}
	if len(a.Password) > 255 {
		return fmt.Errorf("socks password is %d bytes, limit is 255", len(a.Password))
	}
	return nil
}

// ClientConfig selects the protocol variant and credentials for a handshake.
type ClientConfig struct {
	Version Version
	Auth    Auth
}

// ClientDial runs the whole client handshake for a CONNECT to dst over rw and
// returns the address the proxy bound for the relayed connection.
//
// Input errors (an IPv6 destination, oversized credentials) are reported
// before anything is written to rw. rw is never closed.
func ClientDial(rw io.ReadWriter, cfg ClientConfig, dst Addr) (Addr, error) {
	req, err := EncodeRequest(cfg.Version, dst, cfg.Auth.Username)
	if err != nil {
		return Addr{}, err
	}

	switch cfg.Version {
	case V5:
		if err := cfg.Auth.validate(); err != nil {
			return Addr{}, err
		}
		if err := ClientNegotiate(rw, cfg.Auth); err != nil {
			return Addr{}, err
		}
	case V4, V4A:
		// No method negotiation before a SOCKS 4 request.
	default:
		return Addr{}, fmt.Errorf("unknown socks version %v", cfg.Version)
	}

	return sendRequest(rw, cfg.Version, req)
}

// ClientNegotiate performs SOCKS 5 method selection, offering exactly one
// method, followed by username/password authentication when auth is set.
func ClientNegotiate(rw io.ReadWriter, auth Auth) error {
	if err := auth.validate(); err != nil {
		return err
	}

	method := txsocks5.MethodNone
	if auth.enabled() {
		method = txsocks5.MethodUsernamePassword
	}

	if _, err := txsocks5.NewNegotiationRequest([]byte{method}).WriteTo(rw); err != nil {
		return newError(V5, ServerUnreachable, 0, fmt.Errorf("write negotiation: %w", err))
	}

	var rep [2]byte
	if _, err := io.ReadFull(rw, rep[:]); err != nil {
		return readError(V5, err)
	}
	// Some proxies answer the greeting with VER 4.
	if rep[0] != version5 && rep[0] != version4 {
		return newError(V5, VersionMismatch, rep[0], nil)
	}
	if rep[1] != method {
		return newError(V5, AuthMethodUnsupported, rep[1], nil)
	}

	if method == txsocks5.MethodUsernamePassword {
		return ClientAuthenticate(rw, auth)
	}
	return nil
}

// ClientAuthenticate runs the RFC 1929 username/password sub-negotiation.
func ClientAuthenticate(rw io.ReadWriter, auth Auth) error {
	if err := auth.validate(); err != nil {
		return err
	}

	if _, err := txsocks5.NewUserPassNegotiationRequest([]byte(auth.Username), []byte(auth.Password)).WriteTo(rw); err != nil {
		return newError(V5, ServerUnreachable, 0, fmt.Errorf("write userpass: %w", err))
	}

	var rep [2]byte
	if _, err := io.ReadFull(rw, rep[:]); err != nil {
		return readError(V5, err)
	}
	if rep[1] != txsocks5.UserPassStatusSuccess {
		return newError(V5, AuthFailed, rep[1], nil)
	}
	return nil
}

// ClientConnect sends a CONNECT request for dst and reads the reply. For
// SOCKS 5 it must follow ClientNegotiate on the same stream.
func ClientConnect(rw io.ReadWriter, v Version, dst Addr, userID string) (Addr, error) {
	req, err := EncodeRequest(v, dst, userID)
	if err != nil {
		return Addr{}, err
	}
	return sendRequest(rw, v, req)
}

func sendRequest(rw io.ReadWriter, v Version, req []byte) (Addr, error) {
	if _, err := rw.Write(req); err != nil {
		return Addr{}, newError(v, ServerUnreachable, 0, fmt.Errorf("write request: %w", err))
	}
	return ReadReply(rw, v)
}

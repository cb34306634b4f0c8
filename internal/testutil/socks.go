package testutil

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

// SOCKSServerOptions controls the behaviour of a SOCKSServer.
type SOCKSServerOptions struct {
	// Username and Password, when set, require RFC 1929 authentication from
	// SOCKS 5 clients.
	Username string
	Password string
	// Reject, when non-zero, is sent as the reply code (REP for SOCKS 5, CD
	// for SOCKS 4) instead of connecting.
	Reject byte
	// Names answers Tor RESOLVE (name -> IPv4) and RESOLVE_PTR (IPv4 -> name)
	// requests. Unknown keys get a host-unreachable reply.
	Names map[string]string
	// Hold, when non-nil, delays every RESOLVE reply until it is closed.
	Hold <-chan struct{}
}

// SOCKSRequest records one request a SOCKSServer received.
type SOCKSRequest struct {
	Version byte
	Cmd     byte
	Address string
	UserID  string
}

// SOCKSServer is a loopback SOCKS 4/4a/5 proxy for tests. SOCKS 5 framing is
// handled with github.com/txthinking/socks5.
type SOCKSServer struct {
	net.Listener
	ctx  context.Context
	opts SOCKSServerOptions

	mu       sync.Mutex
	requests []SOCKSRequest
}

func StartSOCKSServer(ctx context.Context, t *testing.T, opts SOCKSServerOptions) *SOCKSServer {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	s := &SOCKSServer{Listener: ln, ctx: ctx, opts: opts}
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer c.Close()
				_ = s.handle(c)
			}()
		}
	}()
	return s
}

// Requests returns a copy of the requests received so far.
func (s *SOCKSServer) Requests() []SOCKSRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SOCKSRequest(nil), s.requests...)
}

// Host and Port split the listener address for proxy configuration.
func (s *SOCKSServer) Host() string {
	return s.Addr().(*net.TCPAddr).IP.String()
}

func (s *SOCKSServer) Port() uint16 {
	return uint16(s.Addr().(*net.TCPAddr).Port)
}

func (s *SOCKSServer) record(r SOCKSRequest) {
	s.mu.Lock()
	s.requests = append(s.requests, r)
	s.mu.Unlock()
}

type bufConn struct {
	*bufio.Reader
	net.Conn
}

func (c bufConn) Read(p []byte) (int, error) {
	return c.Reader.Read(p)
}

func (s *SOCKSServer) handle(c net.Conn) error {
	bc := bufConn{Reader: bufio.NewReader(c), Conn: c}
	ver, err := bc.Peek(1)
	if err != nil {
		return err
	}
	switch ver[0] {
	case txsocks5.Ver:
		return s.handle5(bc)
	case 0x04:
		return s.handle4(bc)
	default:
		return fmt.Errorf("unknown version %d", ver[0])
	}
}

func (s *SOCKSServer) handle5(c bufConn) error {
	if err := ServerNegotiate(c, s.opts.Username, s.opts.Password); err != nil {
		return err
	}

	hdr, err := c.Peek(2)
	if err != nil {
		return err
	}
	if cmd := hdr[1]; cmd == 0xf0 || cmd == 0xf1 {
		return s.handleResolve(c)
	}

	req, err := txsocks5.NewRequestFrom(c)
	if err != nil {
		return err
	}
	s.record(SOCKSRequest{Version: txsocks5.Ver, Cmd: req.Cmd, Address: req.Address()})

	if req.Cmd != txsocks5.CmdConnect {
		WriteReply(c, txsocks5.RepCommandNotSupported)
		return nil
	}
	if s.opts.Reject != 0 {
		WriteReply(c, s.opts.Reject)
		return nil
	}

	d := net.Dialer{}
	dst, err := d.DialContext(s.ctx, "tcp", req.Address())
	if err != nil {
		WriteReply(c, txsocks5.RepHostUnreachable)
		return nil
	}
	defer dst.Close()

	if err := WriteSuccessReply(c, dst.LocalAddr()); err != nil {
		return err
	}
	return relay(c, dst)
}

func (s *SOCKSServer) handleResolve(c bufConn) error {
	var hdr [4]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return err
	}
	var key string
	switch hdr[3] {
	case txsocks5.ATYPIPv4:
		var ip [4]byte
		if _, err := io.ReadFull(c, ip[:]); err != nil {
			return err
		}
		key = netip.AddrFrom4(ip).String()
	case txsocks5.ATYPDomain:
		n, err := c.ReadByte()
		if err != nil {
			return err
		}
		name := make([]byte, int(n))
		if _, err := io.ReadFull(c, name); err != nil {
			return err
		}
		key = string(name)
	default:
		return fmt.Errorf("resolve: bad atyp %d", hdr[3])
	}
	var port [2]byte
	if _, err := io.ReadFull(c, port[:]); err != nil {
		return err
	}
	s.record(SOCKSRequest{Version: hdr[0], Cmd: hdr[1], Address: key})

	if s.opts.Hold != nil {
		select {
		case <-s.opts.Hold:
		case <-s.ctx.Done():
			return s.ctx.Err()
		}
	}

	answer, ok := s.opts.Names[key]
	if !ok {
		WriteReply(c, txsocks5.RepHostUnreachable)
		return nil
	}
	if ip, err := netip.ParseAddr(answer); err == nil && ip.Is4() {
		a4 := ip.As4()
		_, err := txsocks5.NewReply(txsocks5.RepSuccess, txsocks5.ATYPIPv4, a4[:], []byte{0x00, 0x00}).WriteTo(c)
		return err
	}
	b := []byte{txsocks5.Ver, txsocks5.RepSuccess, 0x00, txsocks5.ATYPDomain, byte(len(answer))}
	b = append(b, answer...)
	_, err := c.Write(append(b, 0x00, 0x00))
	return err
}

func (s *SOCKSServer) handle4(c bufConn) error {
	var hdr [8]byte
	if _, err := io.ReadFull(c, hdr[:]); err != nil {
		return err
	}
	userID, err := c.ReadString(0)
	if err != nil {
		return err
	}
	userID = strings.TrimSuffix(userID, "\x00")

	ip := [4]byte(hdr[4:8])
	host := netip.AddrFrom4(ip).String()
	if ip[0] == 0 && ip[1] == 0 && ip[2] == 0 && ip[3] != 0 {
		host, err = c.ReadString(0)
		if err != nil {
			return err
		}
		host = strings.TrimSuffix(host, "\x00")
	}
	port := binary.BigEndian.Uint16(hdr[2:4])
	address := net.JoinHostPort(host, strconv.Itoa(int(port)))
	s.record(SOCKSRequest{Version: hdr[0], Cmd: hdr[1], Address: address, UserID: userID})

	reply := func(cd byte) error {
		_, err := c.Write([]byte{0x00, cd, hdr[2], hdr[3], ip[0], ip[1], ip[2], ip[3]})
		return err
	}
	if hdr[1] != 0x01 {
		return reply(0x5b)
	}
	if s.opts.Reject != 0 {
		return reply(s.opts.Reject)
	}

	d := net.Dialer{}
	dst, err := d.DialContext(s.ctx, "tcp", address)
	if err != nil {
		return reply(0x5b)
	}
	defer dst.Close()

	if err := reply(0x5a); err != nil {
		return err
	}
	return relay(c, dst)
}

func relay(c bufConn, dst net.Conn) error {
	g := errgroup.Group{}
	g.Go(func() error {
		_, err := io.Copy(dst, c)
		_ = dst.Close()
		return err
	})
	g.Go(func() error {
		_, err := io.Copy(c, dst)
		_ = c.Close()
		return err
	})
	return g.Wait()
}

// ServerNegotiate runs the server side of SOCKS 5 method selection, requiring
// username/password when username is set.
func ServerNegotiate(rw io.ReadWriter, username, password string) error {
	neg, err := txsocks5.NewNegotiationRequestFrom(rw)
	if err != nil {
		return fmt.Errorf("negotiation request: %w", err)
	}

	if username != "" {
		if !containsMethod(neg.Methods, txsocks5.MethodUsernamePassword) {
			_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(rw)
			return fmt.Errorf("client does not support username/password")
		}
		if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(rw); err != nil {
			return fmt.Errorf("negotiation reply: %w", err)
		}

		urq, err := txsocks5.NewUserPassNegotiationRequestFrom(rw)
		if err != nil {
			return fmt.Errorf("read userpass: %w", err)
		}
		if string(urq.Uname) != username || string(urq.Passwd) != password {
			_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(rw)
			return fmt.Errorf("auth failed")
		}
		if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(rw); err != nil {
			return fmt.Errorf("write userpass: %w", err)
		}
		return nil
	}

	if !containsMethod(neg.Methods, txsocks5.MethodNone) {
		_, _ = txsocks5.NewNegotiationReply(0xff).WriteTo(rw)
		return fmt.Errorf("client does not support no-auth")
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(rw); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// WriteReply writes a SOCKS 5 reply with a zero IPv4 bound address.
func WriteReply(w io.Writer, rep byte) {
	_, _ = txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00}).WriteTo(w)
}

// WriteSuccessReply writes a SOCKS 5 success reply using localAddr as the
// bound address.
func WriteSuccessReply(w io.Writer, localAddr net.Addr) error {
	a, addr, port, err := txsocks5.ParseAddress(localAddr.String())
	if err != nil {
		return fmt.Errorf("parse local address %q: %w", localAddr.String(), err)
	}
	if a == txsocks5.ATYPDomain {
		addr = addr[1:]
	}
	if _, err := txsocks5.NewReply(txsocks5.RepSuccess, a, addr, port).WriteTo(w); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

func containsMethod(methods []byte, want byte) bool {
	for _, m := range methods {
		if m == want {
			return true
		}
	}
	return false
}

package dialer

import (
	"net"
	"strconv"

	"github.com/die-net/socksify/internal/socks"
)

// PeerAddr is the remote address of a proxied connection: the destination
// the caller asked for, tagged with the proxy that carried it.
type PeerAddr struct {
	Host      string
	Port      uint16
	ProxyHost string
	ProxyPort uint16
}

func (a *PeerAddr) Network() string {
	return "tcp"
}

// String returns the destination as host:port.
func (a *PeerAddr) String() string {
	return net.JoinHostPort(a.Host, strconv.Itoa(int(a.Port)))
}

// Via describes the address including the proxy, e.g.
// "example.com:80 (via 127.0.0.1:1080)".
func (a *PeerAddr) Via() string {
	return a.String() + " (via " + a.ProxyAddr() + ")"
}

// ProxyAddr returns the proxy's host:port.
func (a *PeerAddr) ProxyAddr() string {
	return net.JoinHostPort(a.ProxyHost, strconv.Itoa(int(a.ProxyPort)))
}

// Conn is a connection tunnelled through a SOCKS proxy. Reads and writes go
// straight to the proxy connection once the handshake has completed.
type Conn struct {
	net.Conn
	bound socks.Addr
	peer  *PeerAddr
}

// BoundAddr returns the address the proxy reported in its CONNECT reply.
func (c *Conn) BoundAddr() socks.Addr {
	return c.bound
}

// RemoteAddr returns a *PeerAddr for the destination rather than the
// proxy's address.
func (c *Conn) RemoteAddr() net.Addr {
	return c.peer
}

// Peer returns the same value as RemoteAddr without the type assertion.
func (c *Conn) Peer() *PeerAddr {
	return c.peer
}

// ProxyConn returns the underlying transport connection to the proxy.
func (c *Conn) ProxyConn() net.Conn {
	return c.Conn
}

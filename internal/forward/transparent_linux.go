//go:build linux

package forward

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/sys/unix"
)

// IsTransparentSupported is true where ListenTransparentTCP works.
const IsTransparentSupported = true

// ListenTransparentTCP listens on addr with IP_TRANSPARENT set so it can
// accept connections redirected by iptables/nftables REDIRECT or TPROXY
// rules. The rules themselves are not installed here.
func ListenTransparentTCP(ctx context.Context, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
	lc := net.ListenConfig{Control: func(_, _ string, c syscall.RawConn) error {
		var ctrlErr error
		err := c.Control(func(fd uintptr) {
			ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_IP, unix.IP_TRANSPARENT, 1)
		})
		if err != nil {
			return err
		}
		return ctrlErr
	}}
	ln, err := lc.Listen(ctx, "tcp4", addr)
	if err != nil {
		return nil, fmt.Errorf("listen transparent %s: %w", addr, err)
	}
	return &keepAliveListener{Listener: ln, ka: ka}, nil
}

// OriginalDst returns the pre-redirect IPv4 destination of c.
func OriginalDst(c net.Conn) (netip.AddrPort, bool) {
	tc, ok := c.(*net.TCPConn)
	if !ok {
		return netip.AddrPort{}, false
	}
	rc, err := tc.SyscallConn()
	if err != nil {
		return netip.AddrPort{}, false
	}

	var (
		dst   netip.AddrPort
		found bool
	)
	_ = rc.Control(func(fd uintptr) {
		// The kernel returns a sockaddr_in, which fits in an IPv6Mreq.
		mreq, err := unix.GetsockoptIPv6Mreq(int(fd), unix.IPPROTO_IP, unix.SO_ORIGINAL_DST)
		if err != nil {
			return
		}
		b := mreq.Multiaddr
		port := uint16(b[2])<<8 | uint16(b[3])
		dst = netip.AddrPortFrom(netip.AddrFrom4([4]byte(b[4:8])), port)
		found = true
	})
	return dst, found
}

//go:build !linux

package forward

import (
	"context"
	"errors"
	"net"
	"net/netip"
)

const IsTransparentSupported = false

func ListenTransparentTCP(_ context.Context, _ string, _ net.KeepAliveConfig) (net.Listener, error) {
	return nil, errors.New("transparent forwarding is only supported on linux")
}

func OriginalDst(_ net.Conn) (netip.AddrPort, bool) {
	return netip.AddrPort{}, false
}

package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/die-net/socksify/internal/logger"
	"github.com/die-net/socksify/internal/metrics"
	"github.com/die-net/socksify/internal/socks"
)

// SOCKSDialer opens TCP connections through the proxy described by its
// Settings (or a context override), falling back to direct connections when
// no proxy is configured or the destination host is on the ignore list.
type SOCKSDialer struct {
	cfg      Config
	settings *Settings
	direct   Dialer
}

// NewSOCKSDialer constructs a dialer reading its proxy from settings. Nil
// settings means DefaultSettings.
func NewSOCKSDialer(cfg Config, settings *Settings) (*SOCKSDialer, error) {
	if settings == nil {
		settings = DefaultSettings
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	return &SOCKSDialer{cfg: cfg, settings: settings, direct: direct}, nil
}

// Settings returns the Settings the dialer reads its proxy from.
func (d *SOCKSDialer) Settings() *Settings {
	return d.settings
}

// DialContext connects to address, through the proxy when one applies.
//
// Proxied connections are returned as *Conn. The handshake completes before
// DialContext returns; if NegotiationTimeout is set, a deadline is applied
// during the handshake and cleared before returning. Canceling ctx during
// the handshake closes the proxy connection.
func (d *SOCKSDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks dial %s %s: unsupported network", network, address)
	}

	dst, err := d.splitAddr(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("socks dial %s: %w", address, err)
	}

	pc := Effective(ctx, d.settings)
	if !pc.Enabled() || pc.Ignore.Contains(dst.Host) {
		return d.dialDirect(ctx, network, address)
	}
	return d.dialProxy(ctx, network, pc, dst)
}

// DialPeer reconnects to a peer returned by an earlier proxied connection,
// through the same proxy. The ignore list is not consulted.
func (d *SOCKSDialer) DialPeer(ctx context.Context, peer *PeerAddr) (net.Conn, error) {
	if peer == nil {
		return nil, errors.New("socks dial: nil peer")
	}

	pc := Effective(ctx, d.settings)
	pc.Host, pc.Port = peer.ProxyHost, peer.ProxyPort
	dst := socks.Addr{Host: peer.Host, Port: peer.Port}
	if !pc.Enabled() {
		return d.dialDirect(ctx, "tcp", dst.String())
	}
	return d.dialProxy(ctx, "tcp", pc, dst)
}

func (d *SOCKSDialer) dialDirect(ctx context.Context, network, address string) (net.Conn, error) {
	c, err := d.direct.DialContext(ctx, network, address)
	metrics.DialCounter.WithLabelValues("direct", resultLabel(err)).Inc()
	return c, err
}

func (d *SOCKSDialer) dialProxy(ctx context.Context, network string, pc ProxyConfig, dst socks.Addr) (net.Conn, error) {
	id := uuid.NewString()[:8]
	log := logger.L().With(
		zap.String("id", id),
		zap.String("proxy", pc.Addr()),
		zap.String("version", pc.Version.String()),
		zap.String("dst", dst.String()),
	)

	conn, err := d.handshake(ctx, network, pc, dst)
	metrics.DialCounter.WithLabelValues(pc.route(), resultLabel(err)).Inc()
	if err != nil {
		log.Debug("socks dial failed", zap.Error(err))
		return nil, fmt.Errorf("socks%s proxy %s dial %s: %w", pc.Version, pc.Addr(), dst, err)
	}

	log.Debug("socks dial", zap.String("bound", conn.bound.String()))
	return conn, nil
}

func (d *SOCKSDialer) handshake(ctx context.Context, network string, pc ProxyConfig, dst socks.Addr) (*Conn, error) {
	target := dst
	if pc.Version == socks.V4 && !socks.IsIPv6Literal(dst.Host) && !socks.IsIPv4Literal(dst.Host) {
		ip, err := d.lookupIPv4(ctx, dst.Host)
		if err != nil {
			return nil, err
		}
		target.Host = ip
	}

	// Input errors must surface before the proxy is contacted.
	if _, err := socks.EncodeRequest(pc.Version, target, pc.Username); err != nil {
		return nil, err
	}

	c, err := d.direct.DialContext(ctx, network, pc.Addr())
	if err != nil {
		return nil, &socks.ProtocolError{Kind: socks.ServerUnreachable, Version: pc.Version, Err: err}
	}

	if d.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(d.cfg.NegotiationTimeout))
	}

	// Close c if ctx is canceled during the handshake.
	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})

	start := time.Now()
	bound, err := socks.ClientDial(c, socks.ClientConfig{Version: pc.Version, Auth: pc.auth()}, target)
	if !stop() {
		_ = c.Close()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = c.Close()
		return nil, err
	}
	metrics.HandshakeSeconds.WithLabelValues(pc.Version.String()).Observe(time.Since(start).Seconds())

	if d.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Time{})
	}

	return &Conn{
		Conn:  c,
		bound: bound,
		peer: &PeerAddr{
			Host:      dst.Host,
			Port:      dst.Port,
			ProxyHost: pc.Host,
			ProxyPort: pc.Port,
		},
	}, nil
}

// splitAddr splits address into host and port. The port may be a service
// name such as "http".
func (d *SOCKSDialer) splitAddr(ctx context.Context, network, address string) (socks.Addr, error) {
	host, service, err := net.SplitHostPort(address)
	if err != nil {
		return socks.Addr{}, err
	}
	port, err := d.cfg.resolver().LookupPort(ctx, network, service)
	if err != nil {
		return socks.Addr{}, err
	}
	return socks.Addr{Host: host, Port: uint16(port)}, nil
}

// lookupIPv4 resolves host locally for SOCKS 4, which only carries IPv4
// addresses.
func (d *SOCKSDialer) lookupIPv4(ctx context.Context, host string) (string, error) {
	ips, err := d.cfg.resolver().LookupNetIP(ctx, "ip4", host)
	if err != nil {
		return "", fmt.Errorf("socks4 resolve %s: %w", host, err)
	}
	if len(ips) == 0 {
		return "", fmt.Errorf("socks4 resolve %s: no ipv4 address", host)
	}
	return ips[0].Unmap().String(), nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var pe *socks.ProtocolError
	if errors.As(err, &pe) {
		return strings.ReplaceAll(pe.Kind.String(), " ", "_")
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return "error"
}

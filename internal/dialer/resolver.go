package dialer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/die-net/socksify/internal/logger"
	"github.com/die-net/socksify/internal/metrics"
	"github.com/die-net/socksify/internal/socks"
)

// TorResolver resolves names through a SOCKS 5 proxy that implements Tor's
// RESOLVE and RESOLVE_PTR extensions. Nothing else in this package sends
// those commands.
type TorResolver struct {
	cfg      Config
	settings *Settings
	direct   Dialer
	sf       singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight
}

// flight tracks the callers waiting on one shared lookup. Its context is
// canceled when the last of them leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

// NewTorResolver constructs a resolver reading its proxy from settings. Nil
// settings means DefaultSettings.
func NewTorResolver(cfg Config, settings *Settings) (*TorResolver, error) {
	if settings == nil {
		settings = DefaultSettings
	}

	direct, err := NewDirectDialer(cfg)
	if err != nil {
		return nil, err
	}

	return &TorResolver{
		cfg:      cfg,
		settings: settings,
		direct:   direct,
		flights:  make(map[string]*flight),
	}, nil
}

// LookupHost returns the proxy's answer for host: an address for a
// hostname, or a hostname for an IPv4 literal.
//
// Concurrent lookups of the same host through the same proxy with the same
// credentials share one request. A caller whose context is canceled returns
// early; the request is abandoned once no caller is left waiting for it.
func (r *TorResolver) LookupHost(ctx context.Context, host string) (string, error) {
	pc := Effective(ctx, r.settings)
	if !pc.Enabled() {
		return "", errors.New("tor resolve: no proxy configured")
	}
	if pc.Version != socks.V5 {
		return "", fmt.Errorf("tor resolve: requires socks5, proxy is socks%s", pc.Version)
	}

	key := flightKey(pc, host)
	f := r.join(ctx, key)
	defer r.leave(key, f)

	ch := r.sf.DoChan(key, func() (any, error) {
		return r.lookup(f.ctx, pc, host)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func flightKey(pc ProxyConfig, host string) string {
	return strings.Join([]string{pc.Addr(), pc.Username, pc.Password, host}, "\x00")
}

func (r *TorResolver) join(ctx context.Context, key string) *flight {
	r.mu.Lock()
	defer r.mu.Unlock()

	f := r.flights[key]
	if f == nil {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		r.flights[key] = f
	}
	f.waiters++
	return f
}

func (r *TorResolver) leave(key string, f *flight) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	delete(r.flights, key)
	// A later caller must not join a lookup that is being torn down.
	r.sf.Forget(key)
}

func (r *TorResolver) lookup(ctx context.Context, pc ProxyConfig, host string) (string, error) {
	answer, err := r.resolve(ctx, pc, host)
	metrics.ResolveCounter.WithLabelValues(resultLabel(err)).Inc()
	if err != nil {
		logger.L().Debug("tor resolve failed", zap.String("proxy", pc.Addr()), zap.String("host", host), zap.Error(err))
		return "", fmt.Errorf("tor resolve %s via %s: %w", host, pc.Addr(), err)
	}
	logger.L().Debug("tor resolve", zap.String("proxy", pc.Addr()), zap.String("host", host), zap.String("answer", answer))
	return answer, nil
}

func (r *TorResolver) resolve(ctx context.Context, pc ProxyConfig, host string) (string, error) {
	if _, err := socks.EncodeResolveRequest(host); err != nil {
		return "", err
	}

	c, err := r.direct.DialContext(ctx, "tcp", pc.Addr())
	if err != nil {
		return "", &socks.ProtocolError{Kind: socks.ServerUnreachable, Version: socks.V5, Err: err}
	}
	defer c.Close()

	stop := context.AfterFunc(ctx, func() {
		_ = c.Close()
	})
	defer stop()

	if r.cfg.NegotiationTimeout > 0 {
		_ = c.SetDeadline(time.Now().Add(r.cfg.NegotiationTimeout))
	}

	return socks.ClientResolve(c, pc.auth(), host)
}

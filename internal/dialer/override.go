package dialer

import (
	"context"
)

type overrideKey struct{}

type override struct {
	full *ProxyConfig
	host string
	port uint16
}

// WithProxy returns a context whose dials use host:port as the proxy. The
// version, credentials and ignore list still come from Settings. An empty
// host forces direct connections.
func WithProxy(ctx context.Context, host string, port uint16) context.Context {
	return context.WithValue(ctx, overrideKey{}, override{host: host, port: port})
}

// WithProxyConfig returns a context whose dials use cfg in place of Settings.
func WithProxyConfig(ctx context.Context, cfg ProxyConfig) context.Context {
	cfg = cfg.Clone()
	return context.WithValue(ctx, overrideKey{}, override{full: &cfg})
}

// Proxy runs fn with host:port as the proxy for every dial made with the
// context it is given. Settings are never modified, so other goroutines and
// code running after Proxy returns see the previous proxy whether fn
// succeeds, fails or panics.
func Proxy(ctx context.Context, host string, port uint16, fn func(context.Context) error) error {
	return fn(WithProxy(ctx, host, port))
}

// Effective returns the ProxyConfig a dial using ctx would use.
func Effective(ctx context.Context, s *Settings) ProxyConfig {
	if s == nil {
		s = DefaultSettings
	}
	o, ok := ctx.Value(overrideKey{}).(override)
	if !ok {
		return s.Load()
	}
	if o.full != nil {
		return o.full.Clone()
	}
	cfg := s.Load()
	cfg.Host, cfg.Port = o.host, o.port
	return cfg
}

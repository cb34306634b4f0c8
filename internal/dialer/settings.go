package dialer

import (
	"sync"

	"github.com/die-net/socksify/internal/socks"
)

// Settings is a process-wide default ProxyConfig, safe for concurrent use.
type Settings struct {
	mu  sync.RWMutex
	cfg ProxyConfig
}

// DefaultSettings is used by dialers constructed with nil Settings.
var DefaultSettings = NewSettings(DefaultProxyConfig())

func NewSettings(cfg ProxyConfig) *Settings {
	return &Settings{cfg: cfg.Clone()}
}

// Load returns a snapshot of the current configuration.
func (s *Settings) Load() ProxyConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Store replaces the whole configuration.
func (s *Settings) Store(cfg ProxyConfig) {
	cfg = cfg.Clone()
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *Settings) update(fn func(*ProxyConfig)) {
	s.mu.Lock()
	fn(&s.cfg)
	s.mu.Unlock()
}

// SetProxy sets the proxy host and port. An empty host disables proxying.
func (s *Settings) SetProxy(host string, port uint16) {
	s.update(func(c *ProxyConfig) {
		c.Host, c.Port = host, port
	})
}

func (s *Settings) SetVersion(v socks.Version) {
	s.update(func(c *ProxyConfig) {
		c.Version = v
	})
}

func (s *Settings) SetCredentials(username, password string) {
	s.update(func(c *ProxyConfig) {
		c.Username, c.Password = username, password
	})
}

func (s *Settings) SetIgnore(hosts ...string) {
	ignore := append(IgnoreList(nil), hosts...)
	s.update(func(c *ProxyConfig) {
		c.Ignore = ignore
	})
}

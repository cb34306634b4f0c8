package dialer

import (
	"net"
	"strconv"
	"time"

	"github.com/die-net/socksify/internal/socks"
)

// Config holds transport settings shared by every connection a dialer makes.
type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
	// Mark sets SO_MARK on outbound sockets (Linux only). Zero disables.
	Mark int
	// Resolver resolves SOCKS 4 destinations locally. Nil uses
	// net.DefaultResolver.
	Resolver *net.Resolver
}

func (c Config) resolver() *net.Resolver {
	if c.Resolver != nil {
		return c.Resolver
	}
	return net.DefaultResolver
}

// ProxyConfig describes the proxy to tunnel through. The zero value, or one
// with an empty Host or zero Port, means connect directly.
type ProxyConfig struct {
	Host     string        `yaml:"host"`
	Port     uint16        `yaml:"port"`
	Version  socks.Version `yaml:"version"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Ignore   IgnoreList    `yaml:"ignore"`
}

// DefaultProxyConfig has no proxy, SOCKS 5, and ignores "localhost".
func DefaultProxyConfig() ProxyConfig {
	return ProxyConfig{Ignore: IgnoreList{"localhost"}}
}

// Enabled reports whether a proxy is configured.
func (p ProxyConfig) Enabled() bool {
	return p.Host != "" && p.Port != 0
}

// Addr returns the proxy's host:port.
func (p ProxyConfig) Addr() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(int(p.Port)))
}

// Clone returns a copy that shares no memory with p.
func (p ProxyConfig) Clone() ProxyConfig {
	p.Ignore = append(IgnoreList(nil), p.Ignore...)
	return p
}

func (p ProxyConfig) auth() socks.Auth {
	return socks.Auth{Username: p.Username, Password: p.Password}
}

// route names the path a dial takes, for metrics and logs.
func (p ProxyConfig) route() string {
	return "socks" + p.Version.String()
}

// IgnoreList holds destination hosts that are always dialed directly.
// Matching is exact: "localhost" does not match "127.0.0.1".
type IgnoreList []string

func (l IgnoreList) Contains(host string) bool {
	for _, h := range l {
		if h == host {
			return true
		}
	}
	return false
}

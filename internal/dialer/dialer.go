package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"github.com/die-net/socksify/internal/socks"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

const defaultSOCKSPort = 1080

// New parses upstream and constructs a SOCKSDialer with its own Settings
// initialised from it.
//
// Supported schemes:
//   - direct://
//   - socks4://[user@]host[:port]
//   - socks4a://[user@]host[:port]
//   - socks5://[user:pass@]host[:port]
//
// The port defaults to 1080.
func New(cfg Config, upstream string) (*SOCKSDialer, error) {
	pc, err := ParseProxyURL(upstream)
	if err != nil {
		return nil, err
	}
	return NewSOCKSDialer(cfg, NewSettings(pc))
}

// ParseProxyURL converts a proxy URL into a ProxyConfig with the default
// ignore list.
func ParseProxyURL(upstream string) (ProxyConfig, error) {
	pc := DefaultProxyConfig()

	u, err := url.Parse(upstream)
	if err != nil {
		return pc, fmt.Errorf("invalid url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)

	if u.Path != "" && u.Path != "/" {
		return pc, errors.New("invalid URL: path should be empty")
	}

	switch u.Scheme {
	case "":
		return pc, errors.New("invalid url: missing scheme")
	case "direct":
		return pc, nil
	case "socks4", "socks4a", "socks5", "socks5h", "socks":
	default:
		return pc, fmt.Errorf("invalid url scheme: %q", u.Scheme)
	}

	pc.Version, err = socks.ParseVersion(strings.TrimSuffix(u.Scheme, "h"))
	if err != nil {
		return pc, err
	}

	pc.Host = u.Hostname()
	if pc.Host == "" {
		return pc, errors.New("invalid url: missing host")
	}
	pc.Port = defaultSOCKSPort
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil || n == 0 {
			return pc, fmt.Errorf("invalid url port %q", p)
		}
		pc.Port = uint16(n)
	}

	if u.User != nil {
		pc.Username = u.User.Username()
		pc.Password, _ = u.User.Password()
	}
	return pc, nil
}

// Package config loads socksify settings from a YAML file, layered over
// built-in defaults and the ALL_PROXY environment variable.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/die-net/socksify/internal/dialer"
	"github.com/die-net/socksify/internal/logger"
)

type DialConfig struct {
	Timeout            time.Duration `yaml:"timeout"`
	NegotiationTimeout time.Duration `yaml:"negotiationTimeout"`
	// KeepAlive is on|off|keepidle:keepintvl:keepcnt.
	KeepAlive string `yaml:"keepalive"`
	Mark      int    `yaml:"mark"`
}

type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

type Config struct {
	Proxy   dialer.ProxyConfig `yaml:"proxy"`
	Dial    DialConfig         `yaml:"dial"`
	Log     logger.LogConfig   `yaml:"log"`
	Metrics MetricsConfig      `yaml:"metrics"`
}

func Default() Config {
	return Config{
		Proxy: dialer.DefaultProxyConfig(),
		Dial: DialConfig{
			Timeout:            10 * time.Second,
			NegotiationTimeout: 10 * time.Second,
			KeepAlive:          "45:45:3",
		},
		Log: logger.DefaultLogConfig(),
	}
}

// Load returns the defaults, overridden by ALL_PROXY (or all_proxy), then by
// the file at path if path is non-empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if p := EnvProxy(); p != "" {
		pc, err := dialer.ParseProxyURL(p)
		if err != nil {
			return cfg, fmt.Errorf("ALL_PROXY: %w", err)
		}
		cfg.Proxy = pc
	}

	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := Decode(bytes.NewReader(data), &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Decode reads YAML from r into cfg. Keys absent from the document keep
// their current values; unknown keys are an error.
func Decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return cfg.Validate()
}

// Encode writes cfg as YAML.
func Encode(w io.Writer, cfg Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return err
	}
	return enc.Close()
}

func (c Config) Validate() error {
	if c.Proxy.Host != "" && c.Proxy.Port == 0 {
		return errors.New("proxy.port must be set when proxy.host is")
	}
	if c.Dial.Timeout < 0 || c.Dial.NegotiationTimeout < 0 {
		return errors.New("dial timeouts must not be negative")
	}
	if _, err := ParseKeepAlive(c.Dial.KeepAlive); err != nil {
		return fmt.Errorf("dial.keepalive: %w", err)
	}
	return nil
}

// DialerConfig converts the dial section into a dialer.Config.
func (c Config) DialerConfig() (dialer.Config, error) {
	ka, err := ParseKeepAlive(c.Dial.KeepAlive)
	if err != nil {
		return dialer.Config{}, fmt.Errorf("dial.keepalive: %w", err)
	}
	return dialer.Config{
		DialTimeout:        c.Dial.Timeout,
		NegotiationTimeout: c.Dial.NegotiationTimeout,
		KeepAlive:          ka,
		Mark:               c.Dial.Mark,
	}, nil
}

func EnvProxy() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}
	return os.Getenv("all_proxy")
}

func ParseKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

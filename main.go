package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksify/internal/config"
	"github.com/die-net/socksify/internal/dialer"
	"github.com/die-net/socksify/internal/forward"
	"github.com/die-net/socksify/internal/logger"
	"github.com/die-net/socksify/internal/metrics"
	"github.com/die-net/socksify/internal/socks"
)

const usageText = `Usage: socksify [flags] <command> [args]

Commands:
  connect host:port            relay stdin/stdout to host:port through the proxy
  forward --listen addr ...    forward local connections through the proxy
  tor-resolve host...          resolve names (or reverse-resolve IPv4) via a Tor SOCKS port
  config [--yaml]              print the effective configuration

Flags:
`

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "YAML config file")
		upstream   = pflag.String("proxy", "", "Proxy URL: direct:// | socks4://[user@]host[:port] | socks4a://[user@]host[:port] | socks5://[user:pass@]host[:port] (default $ALL_PROXY)")
		version    socks.Version
		username   = pflag.String("user", "", "Proxy username (SOCKS 4 user id)")
		password   = pflag.String("password", "", "Proxy password (SOCKS 5 only)")
		ignore     = pflag.StringSlice("ignore", nil, "Destination hosts to connect to directly (exact match)")

		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for the SOCKS handshake")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
		mark               = pflag.Int("mark", 0, "SO_MARK for outbound sockets (Linux). 0 disables.")
		metricsListen      = pflag.String("metrics-listen", "", "Prometheus /metrics listen address (e.g. 127.0.0.1:9100). Empty disables.")
		verbose            = pflag.Bool("verbose", false, "Enable debug logging")
	)
	pflag.Var(&version, "socks-version", "SOCKS version: 4, 4a or 5")

	pflag.CommandLine.SortFlags = false
	pflag.CommandLine.SetInterspersed(false)
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usageText)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if pflag.NArg() == 0 {
		pflag.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	flags := pflag.CommandLine
	if flags.Changed("proxy") {
		pc, err := dialer.ParseProxyURL(*upstream)
		if err != nil {
			return fmt.Errorf("invalid --proxy: %w", err)
		}
		pc.Ignore = cfg.Proxy.Ignore
		cfg.Proxy = pc
	}
	if flags.Changed("socks-version") {
		cfg.Proxy.Version = version
	}
	if flags.Changed("user") {
		cfg.Proxy.Username = *username
	}
	if flags.Changed("password") {
		cfg.Proxy.Password = *password
	}
	if flags.Changed("ignore") {
		cfg.Proxy.Ignore = *ignore
	}
	if flags.Changed("dial-timeout") {
		cfg.Dial.Timeout = *dialTimeout
	}
	if flags.Changed("negotiation-timeout") {
		cfg.Dial.NegotiationTimeout = *negotiationTimeout
	}
	if flags.Changed("tcp-keepalive") {
		cfg.Dial.KeepAlive = *tcpKeepAlive
	}
	if flags.Changed("mark") {
		cfg.Dial.Mark = *mark
	}
	if flags.Changed("metrics-listen") {
		cfg.Metrics.Listen = *metricsListen
	}
	if *verbose {
		cfg.Log.Level = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	defer logger.Sync()

	if cfg.Proxy.Password != "" && cfg.Proxy.Version != socks.V5 {
		logger.Warn("password is ignored by socks%s proxies", cfg.Proxy.Version)
	}

	dialCfg, err := cfg.DialerConfig()
	if err != nil {
		return err
	}
	dialer.DefaultSettings.Store(cfg.Proxy)

	cmd, args := pflag.Arg(0), pflag.Args()[1:]
	if cmd == "config" {
		return runConfig(cfg, args)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Listen != "" {
		g.Go(func() error {
			if err := metrics.StartServer(ctx, cfg.Metrics.Listen); err != nil {
				return fmt.Errorf("metrics serve: %w", err)
			}
			return nil
		})
		logger.Info("metrics listening on %s", cfg.Metrics.Listen)
	}

	g.Go(func() error {
		defer cancel()
		switch cmd {
		case "connect":
			return runConnect(ctx, dialCfg, args)
		case "forward":
			return runForward(ctx, dialCfg, cfg.Dial, args)
		case "tor-resolve":
			return runTorResolve(ctx, dialCfg, args)
		default:
			pflag.Usage()
			return fmt.Errorf("unknown command %q", cmd)
		}
	})

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

func runConnect(ctx context.Context, dialCfg dialer.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: socksify connect host:port")
	}

	d, err := dialer.NewSOCKSDialer(dialCfg, nil)
	if err != nil {
		return err
	}
	conn, err := d.DialContext(ctx, "tcp", args[0])
	if err != nil {
		return err
	}

	if c, ok := conn.(*dialer.Conn); ok {
		logger.Debug("connected to %s, bound %s", c.Peer().Via(), c.BoundAddr())
	}
	return forward.Stdio(ctx, conn, os.Stdin, os.Stdout)
}

func runForward(ctx context.Context, dialCfg dialer.Config, dc config.DialConfig, args []string) error {
	fs := pflag.NewFlagSet("forward", pflag.ContinueOnError)
	var (
		listen      = fs.String("listen", "", "Local listen address (e.g. 127.0.0.1:8022)")
		target      = fs.String("target", "", "Destination host:port for every connection")
		transparent = fs.Bool("transparent", false, "Forward each connection to its original destination (redirected with iptables/nftables)")
	)
	if !forward.IsTransparentSupported {
		_ = fs.MarkHidden("transparent")
	}
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *listen == "" {
		return errors.New("forward: --listen is required")
	}
	if *transparent == (*target != "") {
		return errors.New("forward: exactly one of --target or --transparent is required")
	}

	ka, err := config.ParseKeepAlive(dc.KeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	d, err := dialer.NewSOCKSDialer(dialCfg, nil)
	if err != nil {
		return err
	}

	listenFn := forward.ListenTCP
	if *transparent {
		listenFn = func(ctx context.Context, _, addr string, ka net.KeepAliveConfig) (net.Listener, error) {
			return forward.ListenTransparentTCP(ctx, addr, ka)
		}
	}
	ln, err := listenFn(ctx, "tcp", *listen, ka)
	if err != nil {
		return fmt.Errorf("forward listen: %w", err)
	}
	context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})

	srv := forward.NewServer(ctx, d, *target)
	logger.Info("forwarding %s to %s via %s", ln.Addr(), describeTarget(*target), describeProxy(d.Settings().Load()))
	if err := srv.Serve(ln); err != nil {
		return fmt.Errorf("forward serve: %w", err)
	}
	logger.Info("shutting down")
	return nil
}

func describeTarget(target string) string {
	if target == "" {
		return "original destinations"
	}
	return target
}

func describeProxy(pc dialer.ProxyConfig) string {
	if !pc.Enabled() {
		return "direct"
	}
	return "socks" + pc.Version.String() + " proxy " + pc.Addr()
}

func runTorResolve(ctx context.Context, dialCfg dialer.Config, hosts []string) error {
	if len(hosts) == 0 {
		return errors.New("usage: socksify tor-resolve host...")
	}

	r, err := dialer.NewTorResolver(dialCfg, nil)
	if err != nil {
		return err
	}

	answers := make([]string, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, host := range hosts {
		g.Go(func() error {
			answer, err := r.LookupHost(gctx, host)
			if err != nil {
				return err
			}
			answers[i] = answer
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, host := range hosts {
		if len(hosts) == 1 {
			fmt.Println(answers[i])
			continue
		}
		fmt.Printf("%s\t%s\n", host, answers[i])
	}
	return nil
}

func runConfig(cfg config.Config, args []string) error {
	fs := pflag.NewFlagSet("config", pflag.ContinueOnError)
	asYAML := fs.Bool("yaml", false, "Print as YAML suitable for --config")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *asYAML {
		return config.Encode(os.Stdout, cfg)
	}
	fmt.Println(renderConfigTable(cfg))
	return nil
}

func renderConfigTable(cfg config.Config) string {
	proxy := "direct"
	if cfg.Proxy.Enabled() {
		proxy = cfg.Proxy.Addr()
	}
	password := ""
	if cfg.Proxy.Password != "" {
		password = "********"
	}
	metricsListen := cfg.Metrics.Listen
	if metricsListen == "" {
		metricsListen = "disabled"
	}

	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Setting", "Value"})
	rows := []table.Row{
		{"proxy", proxy},
		{"socks version", cfg.Proxy.Version.String()},
		{"username", cfg.Proxy.Username},
		{"password", password},
		{"ignore", strings.Join(cfg.Proxy.Ignore, ", ")},
		{"dial timeout", cfg.Dial.Timeout},
		{"negotiation timeout", cfg.Dial.NegotiationTimeout},
		{"tcp keepalive", cfg.Dial.KeepAlive},
		{"mark", cfg.Dial.Mark},
		{"log level", cfg.Log.Level},
		{"metrics", metricsListen},
	}
	for _, row := range rows {
		t.AppendRow(row)
	}
	return t.Render()
}

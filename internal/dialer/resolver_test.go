package dialer

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/die-net/socksify/internal/socks"
	"github.com/die-net/socksify/internal/testutil"
)

func TestTorResolverLookupHost(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	srv := testutil.StartSOCKSServer(ctx, t, testutil.SOCKSServerOptions{
		Username: "tor",
		Password: "secret",
		Names: map[string]string{
			"check.torproject.org": "116.202.120.181",
			"116.202.120.181":      "check.torproject.org",
		},
	})
	pc := proxyFor(srv, socks.V5)
	pc.Username, pc.Password = "tor", "secret"

	r, err := NewTorResolver(Config{NegotiationTimeout: 2 * time.Second}, NewSettings(pc))
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		host    string
		want    string
		wantErr error
	}{
		{host: "check.torproject.org", want: "116.202.120.181"},
		{host: "116.202.120.181", want: "check.torproject.org"},
		{host: "nx.example", wantErr: socks.Rejected(socks.ReplyHostUnreachable)},
		{host: "::1", wantErr: socks.ErrUnsupportedAddressFamily},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := r.LookupHost(ctx, tt.host)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("expected %q got %q", tt.want, got)
			}
		})
	}

	reqs := srv.Requests()
	if len(reqs) != 3 {
		t.Fatalf("expected 3 requests got %d", len(reqs))
	}
	if reqs[0].Cmd != socks.CmdTorResolve || reqs[1].Cmd != socks.CmdTorResolvePTR {
		t.Fatalf("unexpected commands %+v", reqs)
	}
}

// waiting returns how many callers are waiting on key.
func (r *TorResolver) waiting(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f := r.flights[key]; f != nil {
		return f.waiters
	}
	return 0
}

// waitFor polls cond until it holds or ctx is done.
func waitFor(ctx context.Context, t *testing.T, what string, cond func() bool) {
	t.Helper()
	for !cond() {
		select {
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", what)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestTorResolverConcurrent(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hold := make(chan struct{})
	srv := testutil.StartSOCKSServer(ctx, t, testutil.SOCKSServerOptions{
		Names: map[string]string{"example.com": "93.184.216.34"},
		Hold:  hold,
	})
	pc := proxyFor(srv, socks.V5)
	r, err := NewTorResolver(Config{}, NewSettings(pc))
	if err != nil {
		t.Fatal(err)
	}

	const callers = 8
	errs := make(chan error, callers)
	for range callers {
		go func() {
			got, err := r.LookupHost(ctx, "example.com")
			if err == nil && got != "93.184.216.34" {
				err = errors.New("unexpected answer " + got)
			}
			errs <- err
		}()
	}

	// Every caller is parked on the one request the proxy is holding.
	key := flightKey(pc, "example.com")
	waitFor(ctx, t, "callers", func() bool { return r.waiting(key) == callers })
	waitFor(ctx, t, "request", func() bool { return len(srv.Requests()) > 0 })
	time.Sleep(20 * time.Millisecond)
	close(hold)

	for range callers {
		if err := <-errs; err != nil {
			t.Fatal(err)
		}
	}
	if n := len(srv.Requests()); n != 1 {
		t.Fatalf("expected 1 request got %d", n)
	}
}

func TestTorResolverCredentialsNotShared(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	hold := make(chan struct{})
	srv := testutil.StartSOCKSServer(ctx, t, testutil.SOCKSServerOptions{
		Username: "tor",
		Password: "secret",
		Names:    map[string]string{"example.com": "93.184.216.34"},
		Hold:     hold,
	})
	good := proxyFor(srv, socks.V5)
	good.Username, good.Password = "tor", "secret"
	bad := good
	bad.Password = "wrong"

	r, err := NewTorResolver(Config{}, NewSettings(good))
	if err != nil {
		t.Fatal(err)
	}

	answer := make(chan error, 1)
	go func() {
		got, err := r.LookupHost(ctx, "example.com")
		if err == nil && got != "93.184.216.34" {
			err = errors.New("unexpected answer " + got)
		}
		answer <- err
	}()
	waitFor(ctx, t, "request", func() bool { return len(srv.Requests()) > 0 })

	badCtx, badCancel := context.WithTimeout(WithProxyConfig(ctx, bad), 2*time.Second)
	defer badCancel()
	if _, err := r.LookupHost(badCtx, "example.com"); !errors.Is(err, socks.ErrAuthFailed) {
		t.Fatalf("expected auth failure got %v", err)
	}

	close(hold)
	if err := <-answer; err != nil {
		t.Fatal(err)
	}
}

func TestTorResolverAbandoned(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	closed := make(chan struct{})
	upLn, waitUp := testutil.StartSingleAcceptServer(ctx, t, func(c net.Conn) {
		defer close(closed)
		if err := testutil.ServerNegotiate(c, "", ""); err != nil {
			return
		}
		// Never answer; wait for the client to hang up.
		_, _ = io.Copy(io.Discard, c)
	})
	defer waitUp()

	pc := ProxyConfig{Host: "127.0.0.1", Port: uint16(upLn.Addr().(*net.TCPAddr).Port)}
	r, err := NewTorResolver(Config{}, NewSettings(pc))
	if err != nil {
		t.Fatal(err)
	}

	callCtx, callCancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer callCancel()
	if _, err := r.LookupHost(callCtx, "example.com"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded got %v", err)
	}

	select {
	case <-closed:
	case <-ctx.Done():
		t.Fatal("proxy connection still open after the last caller left")
	}
	if n := r.waiting(flightKey(pc, "example.com")); n != 0 {
		t.Fatalf("expected no waiters got %d", n)
	}
}

func TestTorResolverErrors(t *testing.T) {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(t.Context(), "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	closedPort := uint16(ln.Addr().(*net.TCPAddr).Port)
	_ = ln.Close()

	tests := []struct {
		name    string
		pc      ProxyConfig
		wantErr error
	}{
		{name: "no proxy", pc: ProxyConfig{}},
		{name: "socks4 proxy", pc: ProxyConfig{Host: "127.0.0.1", Port: 1080, Version: socks.V4}},
		{name: "unreachable", pc: ProxyConfig{Host: "127.0.0.1", Port: closedPort}, wantErr: socks.ErrServerUnreachable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewTorResolver(Config{}, NewSettings(tt.pc))
			if err != nil {
				t.Fatal(err)
			}
			_, err = r.LookupHost(t.Context(), "example.com")
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v got %v", tt.wantErr, err)
			}
		})
	}
}

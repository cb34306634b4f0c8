package socks

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/die-net/socksify/internal/testutil"
)

func TestEncodeResolveRequest(t *testing.T) {
	tests := []struct {
		host string
		want []byte
	}{
		{host: "torproject.org", want: cat(unhex(t, "05 f0 00 03 0e"), []byte("torproject.org"), unhex(t, "00 00"))},
		{host: "1.2.3.4", want: unhex(t, "05 f1 00 01 01 02 03 04 00 00")},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			got, err := EncodeResolveRequest(tt.host)
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("expected % x\n got % x", tt.want, got)
			}
		})
	}

	if _, err := EncodeResolveRequest("::1"); !errors.Is(err, ErrUnsupportedAddressFamily) {
		t.Fatalf("expected unsupported address family got %v", err)
	}
}

func TestClientResolveScripted(t *testing.T) {
	s := testutil.NewScript(
		unhex(t, "05 00"),
		unhex(t, "05 00 00 01 5d b8 d8 22 00 00"),
	)

	got, err := ClientResolve(s, Auth{}, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	if got != "93.184.216.34" {
		t.Fatalf("unexpected answer %q", got)
	}

	want := cat(unhex(t, "05 01 00"), unhex(t, "05 f0 00 03 0b"), []byte("example.com"), unhex(t, "00 00"))
	if !bytes.Equal(s.Written.Bytes(), want) {
		t.Fatalf("expected % x\n got % x", want, s.Written.Bytes())
	}
}

func TestClientResolveToServer(t *testing.T) {
	ctx := t.Context()

	srv := testutil.StartSOCKSServer(ctx, t, testutil.SOCKSServerOptions{
		Names: map[string]string{
			"example.com": "93.184.216.34",
			"10.9.8.7":    "host.example",
		},
	})

	tests := []struct {
		host    string
		want    string
		wantErr error
	}{
		{host: "example.com", want: "93.184.216.34"},
		{host: "10.9.8.7", want: "host.example"},
		{host: "missing.example", wantErr: Rejected(ReplyHostUnreachable)},
	}

	for _, tt := range tests {
		t.Run(tt.host, func(t *testing.T) {
			d := net.Dialer{}
			c, err := d.DialContext(ctx, "tcp", srv.Addr().String())
			if err != nil {
				t.Fatal(err)
			}
			defer c.Close()

			got, err := ClientResolve(c, Auth{}, tt.host)
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
	if len(reqs) != 3 || reqs[0].Cmd != CmdTorResolve || reqs[1].Cmd != CmdTorResolvePTR {
		t.Fatalf("unexpected requests %+v", reqs)
	}
}

func TestClientResolveEmptyHost(t *testing.T) {
	s := testutil.NewScript()
	if _, err := ClientResolve(s, Auth{}, ""); err == nil {
		t.Fatal("expected error")
	}
	if s.Written.Len() != 0 {
		t.Fatal("expected nothing written")
	}
}

package socks

import (
	"bytes"
	"errors"
	"net/netip"
	"testing"

	txsocks5 "github.com/txthinking/socks5"

	"github.com/die-net/socksify/internal/testutil"
)

func TestEncodeAddrRoundTrip(t *testing.T) {
	hosts := []string{"0.0.0.0", "127.0.0.1", "10.1.2.3", "192.168.254.1", "255.255.255.255"}

	for _, v := range []Version{V4, V4A, V5} {
		for _, host := range hosts {
			t.Run(v.String()+"/"+host, func(t *testing.T) {
				b, err := EncodeAddr(v, host)
				if err != nil {
					t.Fatal(err)
				}

				atyp := AddrIPv4
				if v == V5 {
					atyp, err = DecodeAddrType(b[0])
					if err != nil {
						t.Fatal(err)
					}
					b = b[1:]
				}
				if len(b) != 4 {
					t.Fatalf("expected 4 address bytes got %d", len(b))
				}

				got, err := ReadAddr(bytes.NewReader(b), atyp)
				if err != nil {
					t.Fatal(err)
				}
				if got != host {
					t.Fatalf("expected %q got %q", host, got)
				}
			})
		}
	}
}

func TestEncodeAddrDomainRoundTrip(t *testing.T) {
	b, err := EncodeAddr(V5, "example.com")
	if err != nil {
		t.Fatal(err)
	}
	atyp, err := DecodeAddrType(b[0])
	if err != nil {
		t.Fatal(err)
	}
	if atyp != AddrDomain {
		t.Fatalf("expected domain got %v", atyp)
	}
	got, err := ReadAddr(bytes.NewReader(b[1:]), atyp)
	if err != nil {
		t.Fatal(err)
	}
	if got != "example.com" {
		t.Fatalf("expected example.com got %q", got)
	}
}

func TestIPv6DestinationRejected(t *testing.T) {
	hosts := []string{"::1", "2001:db8::1", "[::1]", "::ffff:10.0.0.1", "fe80::1%eth0"}

	for _, v := range []Version{V4, V4A, V5} {
		for _, host := range hosts {
			t.Run(v.String()+"/"+host, func(t *testing.T) {
				if _, err := EncodeAddr(v, host); !errors.Is(err, ErrUnsupportedAddressFamily) {
					t.Fatalf("EncodeAddr: expected unsupported address family, got %v", err)
				}

				s := testutil.NewScript(unhex(t, "05 00"))
				cfg := ClientConfig{Version: v, Auth: Auth{Username: "user", Password: "pass"}}
				_, err := ClientDial(s, cfg, Addr{Host: host, Port: 443})
				if !errors.Is(err, ErrUnsupportedAddressFamily) {
					t.Fatalf("ClientDial: expected unsupported address family, got %v", err)
				}
				if s.Written.Len() != 0 {
					t.Fatalf("expected no bytes written, got % x", s.Written.Bytes())
				}
			})
		}
	}
}

func TestEncodeRequest(t *testing.T) {
	tests := []struct {
		name    string
		v       Version
		dst     Addr
		userID  string
		want    []byte
		wantErr error
	}{
		{
			name: "socks4a hostname",
			v:    V4A,
			dst:  Addr{Host: "example.com", Port: 80},
			want: unhex(t, "04 01 00 50 00 00 00 01 00 65 78 61 6d 70 6c 65 2e 63 6f 6d 00"),
		},
		{
			name:   "socks4a hostname with user id",
			v:      V4A,
			dst:    Addr{Host: "example.com", Port: 80},
			userID: "bob",
			want:   cat(unhex(t, "04 01 00 50 00 00 00 01"), []byte("bob"), []byte{0}, []byte("example.com"), []byte{0}),
		},
		{
			name: "socks4a ipv4 literal",
			v:    V4A,
			dst:  Addr{Host: "10.0.0.1", Port: 443},
			want: unhex(t, "04 01 01 bb 0a 00 00 01 00"),
		},
		{
			name:   "socks4 ipv4",
			v:      V4,
			dst:    Addr{Host: "10.0.0.1", Port: 1080},
			userID: "alice",
			want:   cat(unhex(t, "04 01 04 38 0a 00 00 01"), []byte("alice"), []byte{0}),
		},
		{
			name:    "socks4 hostname",
			v:       V4,
			dst:     Addr{Host: "example.com", Port: 80},
			wantErr: ErrUnsupportedAddressFamily,
		},
		{
			name: "socks5 ipv4",
			v:    V5,
			dst:  Addr{Host: "1.2.3.4", Port: 8080},
			want: unhex(t, "05 01 00 01 01 02 03 04 1f 90"),
		},
		{
			name: "socks5 domain",
			v:    V5,
			dst:  Addr{Host: "example.com", Port: 443},
			want: cat(unhex(t, "05 01 00 03 0b"), []byte("example.com"), unhex(t, "01 bb")),
		},
		{
			name:    "socks5 oversized domain",
			v:       V5,
			dst:     Addr{Host: string(bytes.Repeat([]byte("a"), 256)), Port: 80},
			wantErr: ErrUnsupportedAddressFamily,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EncodeRequest(tt.v, tt.dst, tt.userID)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(got, tt.want) {
				t.Fatalf("expected % x\n got % x", tt.want, got)
			}
		})
	}
}

func TestDecodeAddrType(t *testing.T) {
	for tag, want := range map[byte]AddrType{0x01: AddrIPv4, 0x03: AddrDomain, 0x04: AddrIPv6} {
		got, err := DecodeAddrType(tag)
		if err != nil {
			t.Fatalf("tag 0x%02x: %v", tag, err)
		}
		if got != want {
			t.Fatalf("tag 0x%02x: expected %v got %v", tag, want, got)
		}
	}

	for _, tag := range []byte{0x00, 0x02, 0x05, 0xf0, 0xff} {
		_, err := DecodeAddrType(tag)
		if !errors.Is(err, ErrMalformedReply) {
			t.Fatalf("tag 0x%02x: expected malformed reply got %v", tag, err)
		}
		var pe *ProtocolError
		if !errors.As(err, &pe) || pe.Code != tag {
			t.Fatalf("tag 0x%02x: expected code to be preserved, got %v", tag, err)
		}
	}
}

func TestReadAddrIPv6(t *testing.T) {
	b := unhex(t, "20 01 0d b8 00 00 00 00 00 00 00 00 00 00 00 01")

	got, err := ReadAddr(bytes.NewReader(b), AddrIPv6)
	if err != nil {
		t.Fatal(err)
	}
	if want := "2001:0db8:0000:0000:0000:0000:0000:0001"; got != want {
		t.Fatalf("expected %q got %q", want, got)
	}

	ip, err := netip.ParseAddr(got)
	if err != nil {
		t.Fatal(err)
	}
	if ip != netip.MustParseAddr("2001:db8::1") {
		t.Fatalf("rendered address parses to %v", ip)
	}
}

func TestParseAddr(t *testing.T) {
	a, err := ParseAddr("example.com:443")
	if err != nil {
		t.Fatal(err)
	}
	if a != (Addr{Host: "example.com", Port: 443}) {
		t.Fatalf("unexpected %+v", a)
	}
	if a.String() != "example.com:443" {
		t.Fatalf("unexpected %q", a.String())
	}

	for _, bad := range []string{"example.com", "example.com:http", "example.com:65536"} {
		if _, err := ParseAddr(bad); err == nil {
			t.Fatalf("%q: expected error", bad)
		}
	}
}

func TestSOCKS5FramesParseAsRequests(t *testing.T) {
	connect := func(host string, port uint16) func() ([]byte, error) {
		return func() ([]byte, error) {
			return EncodeRequest(V5, Addr{Host: host, Port: port}, "")
		}
	}
	resolve := func(host string) func() ([]byte, error) {
		return func() ([]byte, error) {
			return EncodeResolveRequest(host)
		}
	}

	tests := []struct {
		name     string
		encode   func() ([]byte, error)
		wantCmd  byte
		wantAtyp byte
		wantAddr string
	}{
		{name: "connect domain", encode: connect("example.com", 80), wantCmd: txsocks5.CmdConnect, wantAtyp: txsocks5.ATYPDomain, wantAddr: "example.com:80"},
		{name: "connect ipv4", encode: connect("10.0.0.1", 443), wantCmd: txsocks5.CmdConnect, wantAtyp: txsocks5.ATYPIPv4, wantAddr: "10.0.0.1:443"},
		{name: "resolve", encode: resolve("example.com"), wantCmd: CmdTorResolve, wantAtyp: txsocks5.ATYPDomain, wantAddr: "example.com:0"},
		{name: "resolve ptr", encode: resolve("10.0.0.1"), wantCmd: CmdTorResolvePTR, wantAtyp: txsocks5.ATYPIPv4, wantAddr: "10.0.0.1:0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.encode()
			if err != nil {
				t.Fatal(err)
			}
			r := bytes.NewReader(b)
			req, err := txsocks5.NewRequestFrom(r)
			if err != nil {
				t.Fatal(err)
			}
			if req.Cmd != tt.wantCmd || req.Atyp != tt.wantAtyp {
				t.Fatalf("expected cmd 0x%02x atyp 0x%02x got 0x%02x 0x%02x", tt.wantCmd, tt.wantAtyp, req.Cmd, req.Atyp)
			}
			if got := req.Address(); got != tt.wantAddr {
				t.Fatalf("expected %q got %q", tt.wantAddr, got)
			}
			if r.Len() != 0 {
				t.Fatalf("%d trailing bytes", r.Len())
			}
		})
	}
}

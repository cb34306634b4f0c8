package socks

import (
	"errors"
	"fmt"
	"io"
	"testing"
)

func TestProtocolErrorIs(t *testing.T) {
	err := fmt.Errorf("dial: %w", newError(V5, ConnectRejected, byte(ReplyHostUnreachable), nil))

	if !errors.Is(err, ErrConnectRejected) {
		t.Fatal("expected match on kind")
	}
	if !errors.Is(err, Rejected(ReplyHostUnreachable)) {
		t.Fatal("expected match on code")
	}
	if errors.Is(err, Rejected(ReplyConnectionRefused)) {
		t.Fatal("unexpected match on other code")
	}
	if errors.Is(err, ErrServerUnreachable) {
		t.Fatal("unexpected match on other kind")
	}
}

func TestProtocolErrorMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{
			err:  newError(V5, ConnectRejected, byte(ReplyConnectionRefused), nil),
			want: "socks5: connect rejected: connection refused",
		},
		{
			err:  newError(V4, ConnectRejected, 0x5b, nil),
			want: "socks4: connect rejected: status 0x5b",
		},
		{
			err:  newError(V5, AuthFailed, 0x01, nil),
			want: "socks5: authentication failed (0x01)",
		},
		{
			err:  newError(V4A, ServerUnreachable, 0, io.ErrUnexpectedEOF),
			want: "socks4a: server unreachable: unexpected EOF",
		},
	}

	for _, tt := range tests {
		if got := tt.err.Error(); got != tt.want {
			t.Errorf("expected %q got %q", tt.want, got)
		}
	}
}

func TestProtocolErrorUnwrap(t *testing.T) {
	err := newError(V5, ServerUnreachable, 0, io.EOF)
	if !errors.Is(err, io.EOF) {
		t.Fatal("expected to unwrap to io.EOF")
	}

	var pe *ProtocolError
	if !errors.As(fmt.Errorf("outer: %w", err), &pe) || pe.Kind != ServerUnreachable {
		t.Fatalf("unexpected %v", pe)
	}
}

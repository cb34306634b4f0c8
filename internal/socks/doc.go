// Package socks implements the client side of the SOCKS 4, 4a and 5
// handshakes used by socksify.
//
// The handshake runs over any io.ReadWriter; the package never dials or closes
// connections itself. Greeting and authentication messages are written with
// github.com/txthinking/socks5, which also backs the test servers.
//
// Only the CONNECT command is implemented, plus the Tor RESOLVE extension in
// resolve.go. IPv6 destinations are rejected before anything is written.
package socks

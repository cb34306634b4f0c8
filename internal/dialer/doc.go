// Package dialer opens outbound TCP connections, either directly or through
// a SOCKS 4, 4a or 5 proxy.
//
// The proxy in effect for a dial is read from a Settings value when the dial
// starts, so changes made while a handshake is in flight never affect it.
// WithProxy and Proxy override the proxy for a single context without
// touching the shared Settings.
package dialer

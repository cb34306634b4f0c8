// Package forward relays local TCP connections to remote destinations
// through a dialer.Dialer.
//
// A Server either forwards every accepted connection to one fixed target,
// or, on a transparent listener, to the destination the client originally
// asked for before the packet filter redirected it. On Linux the original
// destination is read with SO_ORIGINAL_DST; on other platforms transparent
// listeners are unavailable.
package forward

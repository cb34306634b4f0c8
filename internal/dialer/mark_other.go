//go:build !linux

package dialer

import "syscall"

// SO_MARK is Linux-only; Mark is ignored elsewhere.
func markControl(int) func(network, address string, c syscall.RawConn) error {
	return nil
}

package forward

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksify/internal/metrics"
)

// CopyBidirectional copies between left and right until either side closes
// or ctx is done, then closes both.
func CopyBidirectional(ctx context.Context, left, right net.Conn) error {
	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = left.Close()
			_ = right.Close()
		})
	}
	defer closeBoth()

	// If the context is canceled, ensure we close both sides to unblock Copy.
	stop := context.AfterFunc(ctx, closeBoth)
	defer stop()

	g := errgroup.Group{}
	g.Go(func() error {
		n, err := io.Copy(left, right)
		metrics.ForwardBytes.WithLabelValues("down").Add(float64(n))
		closeBoth()
		return err
	})
	g.Go(func() error {
		n, err := io.Copy(right, left)
		metrics.ForwardBytes.WithLabelValues("up").Add(float64(n))
		closeBoth()
		return err
	})

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if isClosed(err) {
		return nil
	}
	return err
}

// Stdio relays between conn and a reader/writer pair such as os.Stdin and
// os.Stdout. When in reaches EOF the write side of conn is shut down so the
// remote sees end of input. Stdio returns once conn reaches EOF; a read from
// in that is still pending is abandoned.
func Stdio(ctx context.Context, conn net.Conn, in io.Reader, out io.Writer) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.Close()
	})
	defer stop()

	go func() {
		_, _ = io.Copy(conn, in)
		if cw, ok := closeWriter(conn); ok {
			_ = cw.CloseWrite()
		}
	}()

	_, err := io.Copy(out, conn)
	_ = conn.Close()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if isClosed(err) {
		return nil
	}
	return err
}

type writeCloser interface {
	CloseWrite() error
}

// closeWriter finds a CloseWrite method on conn or, for a proxied
// connection, on the transport underneath it.
func closeWriter(conn net.Conn) (writeCloser, bool) {
	if cw, ok := conn.(writeCloser); ok {
		return cw, true
	}
	if pc, ok := conn.(interface{ ProxyConn() net.Conn }); ok {
		return closeWriter(pc.ProxyConn())
	}
	return nil, false
}

func isClosed(err error) bool {
	return err == nil || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe)
}

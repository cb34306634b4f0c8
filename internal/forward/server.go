package forward

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/die-net/socksify/internal/dialer"
	"github.com/die-net/socksify/internal/logger"
	"github.com/die-net/socksify/internal/metrics"
)

type Server struct {
	ctx    context.Context
	Dialer dialer.Dialer
	// Target is the host:port every connection is forwarded to. Empty means
	// use the original destination of a transparently redirected
	// connection.
	Target string
}

func NewServer(ctx context.Context, d dialer.Dialer, target string) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Server{ctx: ctx, Dialer: d, Target: target}
}

// Serve accepts connections on ln until it is closed. Closing ln, typically
// from a context.AfterFunc, makes Serve return nil.
func (s *Server) Serve(ln net.Listener) error {
	gauge := metrics.ForwardGauge.WithLabelValues(ln.Addr().String())
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		gauge.Inc()
		go func() {
			defer gauge.Dec()
			s.handle(c)
		}()
	}
}

func (s *Server) handle(conn net.Conn) {
	log := logger.L().With(
		zap.String("id", uuid.NewString()[:8]),
		zap.String("client", conn.RemoteAddr().String()),
	)
	if err := s.forward(conn, log); err != nil {
		log.Info("forward failed", zap.Error(err))
	}
}

func (s *Server) forward(conn net.Conn, log *zap.Logger) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	dst := s.Target
	if dst == "" {
		orig, ok := OriginalDst(conn)
		if !ok {
			return errors.New("original destination unavailable")
		}
		// Without a redirect, conntrack reports the listener itself.
		if la, ok := conn.LocalAddr().(*net.TCPAddr); ok && la.Port == int(orig.Port()) && la.IP.Equal(orig.Addr().AsSlice()) {
			return errors.New("connection was not redirected")
		}
		dst = orig.String()
	}

	up, err := s.Dialer.DialContext(ctx, "tcp", dst)
	if err != nil {
		return err
	}
	defer up.Close()

	via := up.RemoteAddr().String()
	if p, ok := up.RemoteAddr().(*dialer.PeerAddr); ok {
		via = p.Via()
	}
	log.Debug("forwarding", zap.String("dst", via))

	if err := CopyBidirectional(ctx, conn, up); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}

// Package metrics exposes Prometheus instrumentation for proxied dials and
// forwarded connections.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// DialCounter counts outbound dials by route ("direct", "socks4",
	// "socks4a", "socks5") and result ("ok" or an error kind).
	DialCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socksify",
		Name:      "dials_total",
		Help:      "Total number of outbound dials",
	}, []string{"route", "result"})

	// HandshakeSeconds observes the time from proxy connect to CONNECT reply.
	HandshakeSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "socksify",
		Name:      "handshake_seconds",
		Help:      "SOCKS handshake latency",
		Buckets:   prometheus.DefBuckets,
	}, []string{"version"})

	// ResolveCounter counts Tor RESOLVE/RESOLVE_PTR lookups by result.
	ResolveCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socksify",
		Name:      "resolves_total",
		Help:      "Total number of lookups sent to the proxy",
	}, []string{"result"})

	// ForwardGauge is the current number of forwarded connections.
	ForwardGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "socksify",
		Name:      "forward_connections",
		Help:      "Current number of forwarded connections",
	}, []string{"listen"})

	// ForwardBytes counts bytes copied by the port forwarder.
	ForwardBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "socksify",
		Name:      "forward_bytes_total",
		Help:      "Bytes copied by the port forwarder",
	}, []string{"direction"})
)

func init() {
	prometheus.MustRegister(DialCounter, HandshakeSeconds, ResolveCounter, ForwardGauge, ForwardBytes)
}

// StartServer serves /metrics on addr until ctx is done.
func StartServer(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package proxy

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/sombochea/tungo/internal/registry"
)

var (
	proxyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tungo_proxy_requests_total",
			Help: "Total number of proxied requests",
		},
		[]string{"status"},
	)
	proxyLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tungo_proxy_latency_seconds",
			Help:    "Proxy request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)
)

// ServerProxy handles proxying raw connections to other servers in the cluster
type ServerProxy struct {
	registry registry.Registry
	logger   *slog.Logger
}

// NewServerProxy creates a new server-to-server proxy.
func NewServerProxy(reg registry.Registry, logger *slog.Logger) *ServerProxy {
	return &ServerProxy{
		registry: reg,
		logger:   logger,
	}
}

// ProxyRawConn splices a raw TCP connection to the remote dispatcher port
// of the server instance that actually owns this tunnel. src is read first
// to forward any already-peeked bytes before the raw connections are
// spliced bidirectionally.
func (p *ServerProxy) ProxyRawConn(conn net.Conn, src io.Reader, tunnelInfo *registry.TunnelInfo) error {
	start := time.Now()
	target := fmt.Sprintf("%s:%d", tunnelInfo.ServerHost, tunnelInfo.ProxyPort)
	upstream, err := net.DialTimeout("tcp", target, 10*time.Second)
	if err != nil {
		proxyRequests.WithLabelValues("error").Inc()
		return fmt.Errorf("dial upstream server %s: %w", target, err)
	}
	defer upstream.Close()

	errc := make(chan error, 2)
	go func() {
		_, err := io.Copy(upstream, src)
		errc <- err
	}()
	go func() {
		_, err := io.Copy(conn, upstream)
		errc <- err
	}()

	err = <-errc
	proxyLatency.Observe(time.Since(start).Seconds())
	proxyRequests.WithLabelValues("success").Inc()
	return err
}

// ShouldProxy determines if a request should be proxied to another server
func (p *ServerProxy) ShouldProxy(subdomain string) (bool, *registry.TunnelInfo, error) {
	// Check if tunnel exists in registry
	tunnelInfo, err := p.registry.GetTunnel(subdomain)
	if err != nil {
		return false, nil, fmt.Errorf("tunnel not found: %w", err)
	}

	// Check if tunnel belongs to this server
	isLocal, err := p.registry.IsLocalTunnel(subdomain)
	if err != nil {
		return false, nil, fmt.Errorf("failed to check tunnel ownership: %w", err)
	}

	// If tunnel is local, don't proxy
	if isLocal {
		return false, nil, nil
	}

	// Tunnel belongs to another server, should proxy
	return true, tunnelInfo, nil
}

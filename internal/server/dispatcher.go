package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sombochea/tungo/internal/proxy"
	"github.com/sombochea/tungo/internal/registry"
	"github.com/sombochea/tungo/pkg/config"
	"github.com/sombochea/tungo/pkg/protocol"
)

const (
	healthCheckPath = "/0xDEADBEEF_HEALTH_CHECK"
	maxHeaderPeek   = 4096
)

var (
	httpInvalidHostResponse       = []byte("HTTP/1.1 400 Bad Request\r\nContent-Length: 23\r\n\r\nError: Invalid Hostname")
	httpNotFoundResponse          = []byte("HTTP/1.1 404 Not Found\r\nContent-Length: 23\r\n\r\nError: Tunnel Not Found")
	httpErrorLocatingHostResponse = []byte("HTTP/1.1 500 Internal Server Error\r\nContent-Length: 27\r\n\r\nError: Error finding tunnel")
	httpTunnelRefusedResponse     = []byte("HTTP/1.1 502 Bad Gateway\r\nContent-Length: 32\r\n\r\nTunnel says: connection refused.")
	httpOKResponse                = []byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	httpPasswordRequiredResponse  = []byte("HTTP/1.1 401 Unauthorized\r\nWWW-Authenticate: X-Tungo-Password\r\nContent-Length: 39\r\n\r\nError: tunnel requires x-tungo-password")
)

const passwordHeader = "X-Tungo-Password"

// RemoteDispatcher is the server's raw-TCP entry point for tunneled
// traffic (spec C5): it accepts end-user connections on the shared remote
// port, peeks the HTTP Host header to route by subdomain, and pumps bytes
// to and from the owning client's control channel.
type RemoteDispatcher struct {
	config       *config.ServerConfig
	connMgr      *ConnectionManager
	distRegistry *registry.DistributedRegistry
	serverProxy  *proxy.ServerProxy
	logger       zerolog.Logger
	redirectBody []byte
}

// NewRemoteDispatcher creates a new remote dispatcher.
func NewRemoteDispatcher(
	cfg *config.ServerConfig,
	connMgr *ConnectionManager,
	distRegistry *registry.DistributedRegistry,
	serverProxy *proxy.ServerProxy,
	logger zerolog.Logger,
) *RemoteDispatcher {
	scheme := "http"
	if cfg.PortalTLS {
		scheme = "https"
	}
	location := fmt.Sprintf("%s://%s/", scheme, cfg.PortalHost)
	body := fmt.Sprintf("HTTP/1.1 301 Moved Permanently\r\nLocation: %s\r\nContent-Length: %d\r\n\r\n%s", location, len(location), location)

	return &RemoteDispatcher{
		config:       cfg,
		connMgr:      connMgr,
		distRegistry: distRegistry,
		serverProxy:  serverProxy,
		logger:       logger,
		redirectBody: []byte(body),
	}
}

// ListenAndServe accepts raw TCP connections until ctx is canceled.
func (d *RemoteDispatcher) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", d.config.Host, d.config.RemotePort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on remote port: %w", err)
	}
	d.logger.Info().Str("addr", addr).Msg("remote dispatcher listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			d.logger.Error().Err(err).Msg("accept error")
			continue
		}
		go d.handleConnection(conn)
	}
}

// handleConnection routes one accepted socket: health check, apex
// redirect, control-channel splice, or handoff to a tunnel client.
func (d *RemoteDispatcher) handleConnection(conn net.Conn) {
	br := bufio.NewReaderSize(conn, maxHeaderPeek)

	host, target, headers, ok := peekHTTPRequestHost(br)
	if !ok {
		conn.Close()
		return
	}
	forwardedFor := headers.Get("X-Forwarded-For")

	logger := d.logger.With().Str("host", host).Str("remote_addr", conn.RemoteAddr().String()).Logger()

	if target == healthCheckPath {
		conn.Write(httpOKResponse)
		conn.Close()
		return
	}

	subDomain, ok := d.splitAllowedHost(host)
	if !ok {
		logger.Info().Msg("host not in allowed list, redirecting")
		conn.Write(d.redirectBody)
		conn.Close()
		return
	}
	if subDomain == "" {
		conn.Write(httpInvalidHostResponse)
		conn.Close()
		return
	}

	if subDomain == "wormhole" {
		d.spliceToControlPort(conn, br)
		return
	}

	fullHost := subDomain + "." + d.config.PortalHost
	client, exists := d.connMgr.GetClientByHost(fullHost)
	if !exists {
		if d.tryCrossServerProxy(conn, br, subDomain, logger) {
			return
		}
		logger.Info().Msg("no tunnel found for host")
		conn.Write(httpNotFoundResponse)
		conn.Close()
		return
	}

	if client.Password != "" && headers.Get(passwordHeader) != client.Password {
		conn.Write(httpPasswordRequiredResponse)
		conn.Close()
		return
	}

	remoteAddr := conn.RemoteAddr().String()
	if forwardedFor != "" {
		remoteAddr = forwardedFor
	}
	d.serveStream(client, conn, br, remoteAddr, logger)
}

// tryCrossServerProxy hands the connection off to the server instance that
// actually owns this tunnel, per the distributed registry. It reports
// whether it took ownership of conn (and thus closed it).
func (d *RemoteDispatcher) tryCrossServerProxy(conn net.Conn, src io.Reader, subDomain string, logger zerolog.Logger) bool {
	if d.distRegistry == nil || d.serverProxy == nil {
		return false
	}

	shouldProxy, tunnelInfo, err := d.serverProxy.ShouldProxy(subDomain)
	if err != nil || !shouldProxy {
		return false
	}

	logger.Info().Str("target_server", tunnelInfo.ServerID).Msg("proxying to remote server instance")
	defer conn.Close()
	if err := d.serverProxy.ProxyRawConn(conn, src, tunnelInfo); err != nil {
		logger.Warn().Err(err).Msg("cross-server proxy failed")
	}
	return true
}

// serveStream allocates a new multiplexed stream for this socket, tells
// the client to open a local connection, and pumps bytes in both
// directions until either side closes.
func (d *RemoteDispatcher) serveStream(client *ClientConnection, conn net.Conn, br *bufio.Reader, remoteAddr string, logger zerolog.Logger) {
	streamID, err := protocol.GenerateStreamID()
	if err != nil {
		conn.Write(httpErrorLocatingHostResponse)
		conn.Close()
		return
	}

	stream := client.AddStream(streamID, remoteAddr)

	if err := client.SendPacket(protocol.NewInitPacket(streamID)); err != nil {
		logger.Warn().Err(err).Msg("failed to send init packet")
		client.RemoveStream(streamID)
		conn.Write(httpTunnelRefusedResponse)
		conn.Close()
		return
	}

	logger.Debug().Str("stream_id", streamID.String()).Msg("stream opened")

	go d.pumpSocketToClient(client, stream, br)
	d.pumpClientToSocket(stream, conn)
}

// pumpSocketToClient reads bytes off the accepted socket and forwards them
// to the tunnel client as Data packets, signaling End on EOF.
func (d *RemoteDispatcher) pumpSocketToClient(client *ClientConnection, stream *ActiveStream, br *bufio.Reader) {
	buf := make([]byte, 1024)
	for {
		n, err := br.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			if sendErr := client.SendPacket(protocol.NewDataPacket(stream.ID, data)); sendErr != nil {
				client.Logger.Warn().Err(sendErr).Msg("failed to forward socket data to client")
				return
			}
		}
		if err != nil {
			client.SendPacket(protocol.NewEndPacket(stream.ID))
			return
		}
	}
}

// pumpClientToSocket drains the stream's inbound queue — bytes the
// client's local service produced — and writes them to the accepted
// socket, closing it once the stream ends.
func (d *RemoteDispatcher) pumpClientToSocket(stream *ActiveStream, conn net.Conn) {
	defer conn.Close()
	for {
		select {
		case msg := <-stream.Inbound:
			switch msg.Type {
			case StreamData:
				if _, err := conn.Write(msg.Data); err != nil {
					return
				}
			case StreamTunnelRefused:
				conn.Write(httpTunnelRefusedResponse)
				return
			case StreamNoClientTunnel:
				conn.Write(httpNotFoundResponse)
				return
			case StreamClose:
				return
			}
		case <-stream.Done():
			return
		}
	}
}

// spliceToControlPort forwards a raw connection on subdomain "wormhole"
// straight to the local control-channel listener, for deployments that
// front both control and data traffic behind one public port.
func (d *RemoteDispatcher) spliceToControlPort(conn net.Conn, src io.Reader) {
	defer conn.Close()

	target := fmt.Sprintf("127.0.0.1:%d", d.config.ControlPort)
	upstream, err := net.DialTimeout("tcp", target, 5*time.Second)
	if err != nil {
		d.logger.Warn().Err(err).Msg("failed to dial local control port")
		return
	}
	defer upstream.Close()

	done := make(chan struct{}, 2)
	go func() { io.Copy(upstream, src); done <- struct{}{} }()
	go func() { io.Copy(conn, upstream); done <- struct{}{} }()
	<-done
}

// splitAllowedHost strips a port suffix and splits the host into its
// subdomain prefix, verifying the remaining apex is in the allowed list
// (defaulting to the configured portal host when the list is empty).
// ok is false when the apex is not recognized at all; an empty subdomain
// with ok true means the apex was hit directly with no subdomain prefix.
func (d *RemoteDispatcher) splitAllowedHost(host string) (subDomain string, ok bool) {
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	allowed := d.config.AllowedHosts
	if len(allowed) == 0 {
		allowed = []string{d.config.PortalHost}
	}

	for _, apex := range allowed {
		if host == apex {
			return "", true
		}
		if strings.HasSuffix(host, "."+apex) {
			return strings.TrimSuffix(host, "."+apex), true
		}
	}
	return "", false
}

// peekHTTPRequestHost non-destructively inspects the start of a
// connection for an HTTP Host header, leaving br's read position
// untouched so the same bytes are seen again by the stream pump.
func peekHTTPRequestHost(br *bufio.Reader) (host, target string, headers textproto.MIMEHeader, ok bool) {
	peeked, _ := br.Peek(maxHeaderPeek)
	if len(peeked) == 0 {
		return "", "", nil, false
	}

	tp := textproto.NewReader(bufio.NewReader(bytes.NewReader(peeked)))
	requestLine, err := tp.ReadLine()
	if err != nil {
		return "", "", nil, false
	}

	fields := strings.Fields(requestLine)
	if len(fields) >= 2 {
		target = fields[1]
	}

	headers, _ = tp.ReadMIMEHeader()
	host = headers.Get("Host")
	if host == "" {
		return "", "", nil, false
	}

	return host, target, headers, true
}

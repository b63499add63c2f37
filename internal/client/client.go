package client

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/sombochea/tungo/internal/client/introspect"
	"github.com/sombochea/tungo/pkg/config"
	"github.com/sombochea/tungo/pkg/protocol"
	"github.com/sombochea/tungo/pkg/version"
)

// Buffer pool for high-performance data forwarding
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, 32*1024) // 32KB buffers
		return &buf
	},
}

// TunnelClient holds one control-channel session to a tunnel server and the
// local streams multiplexed over it (spec C6).
type TunnelClient struct {
	config           *config.ClientConfig
	logger           zerolog.Logger
	conn             *websocket.Conn
	connMutex        sync.Mutex
	streams          map[protocol.StreamID]*LocalStream
	streamMux        sync.RWMutex
	send             chan []byte
	done             chan struct{}
	closed           bool
	closeMutex       sync.Mutex
	serverInfo       *protocol.ServerHello
	currentServerIdx int // Current server index in cluster
	serverList       []config.ServerNode

	reconnectMu    sync.Mutex
	reconnectToken *protocol.ReconnectToken

	lastPingMu sync.Mutex
	lastPing   time.Time
}

// LocalStream is one end-user connection proxied through the local service,
// with enough captured metadata to drive the console log and dashboard.
type LocalStream struct {
	ID             protocol.StreamID
	LocalConn      net.Conn
	DataChan       chan []byte
	Done           chan struct{}
	closeOnce      sync.Once
	RequestWritten chan struct{} // Signal when request has been written
	BytesSent      int64
	BytesRecv      int64
	RequestData    []byte // Capture request for introspect
	ResponseData   []byte // Capture response for introspect
	captureEnabled bool
	StartTime      time.Time // Track request start time
	EndTime        time.Time // Track response end time
	Method         string    // HTTP method
	Path           string    // HTTP path
	SourceIP       string    // Client source IP
	StatusCode     int       // HTTP status code
	firstRead      bool      // Track if we've done first read
}

// NewTunnelClient creates a new tunnel client
func NewTunnelClient(cfg *config.ClientConfig, logger zerolog.Logger) *TunnelClient {
	return &TunnelClient{
		config:           cfg,
		logger:           logger,
		streams:          make(map[protocol.StreamID]*LocalStream),
		send:             make(chan []byte, 256),
		done:             make(chan struct{}),
		currentServerIdx: 0,
		serverList:       cfg.GetServerList(), // Get server list from config
	}
}

// Connect establishes a connection to the tunnel server
func (tc *TunnelClient) Connect() error {
	tc.connMutex.Lock()
	defer tc.connMutex.Unlock()

	// Close existing connection and wait for cleanup
	if tc.conn != nil {
		tc.logger.Debug().Msg("Closing old connection and waiting for goroutines to finish")

		tc.conn.Close()

		tc.closeMutex.Lock()
		if !tc.closed {
			tc.closed = true
			select {
			case <-tc.done:
			default:
				close(tc.done)
			}
		}
		tc.closeMutex.Unlock()

		time.Sleep(500 * time.Millisecond)
	}

	tc.closeMutex.Lock()
	tc.closed = false
	tc.closeMutex.Unlock()

	// Clean up streams from the old connection
	tc.streamMux.Lock()
	for _, stream := range tc.streams {
		stream.close()
	}
	tc.streams = make(map[protocol.StreamID]*LocalStream)
	tc.streamMux.Unlock()

	// Create fresh channels for new connection
	tc.send = make(chan []byte, 256)
	tc.done = make(chan struct{})

	// Note: tc.serverInfo is preserved so a fresh connect can ask to
	// reuse the same subdomain.

	currentServer := tc.serverList[tc.currentServerIdx]

	scheme := "ws"
	if currentServer.Secure {
		scheme = "wss"
	}

	wsURL := url.URL{
		Scheme: scheme,
		Host:   fmt.Sprintf("%s:%d", currentServer.Host, currentServer.Port),
		Path:   "/wormhole",
	}

	tc.logger.Info().
		Str("url", wsURL.String()).
		Int("server_index", tc.currentServerIdx).
		Int("total_servers", len(tc.serverList)).
		Msg("Connecting to server")

	dialer := websocket.Dialer{
		HandshakeTimeout: tc.config.ConnectTimeout,
	}

	if currentServer.Secure {
		if tc.config.InsecureTLS {
			dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
			tc.logger.Warn().Msg("TLS certificate verification disabled (insecure mode)")
		}
	}

	headers := make(map[string][]string)
	headers["User-Agent"] = []string{fmt.Sprintf("TunGo-Client/%s", version.GetShortVersion())}

	// For Cloudflare and standard HTTPS/WSS ports, use clean Host header without port
	if currentServer.Secure && currentServer.Port == 443 {
		headers["Host"] = []string{currentServer.Host}
	}

	conn, resp, err := dialer.Dial(wsURL.String(), headers)
	if err != nil {
		if resp != nil {
			tc.logger.Error().
				Int("status_code", resp.StatusCode).
				Str("status", resp.Status).
				Msg("WebSocket handshake failed")
		}
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	tc.conn = conn

	if err := tc.sendClientHello(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to send client hello: %w", err)
	}

	if err := tc.receiveServerHello(); err != nil {
		conn.Close()
		return fmt.Errorf("failed to receive server hello: %w", err)
	}

	tc.markAlive()

	tc.logger.Info().
		Str("subdomain", tc.serverInfo.SubDomain).
		Str("hostname", tc.serverInfo.Hostname).
		Str("public_url", tc.serverInfo.PublicURL).
		Msg("Tunnel established")

	return nil
}

// sendClientHello sends the initial hello as a single binary WebSocket
// message: a reconnect token when one is known, otherwise a fresh identity.
func (tc *TunnelClient) sendClientHello() error {
	var hello *protocol.ClientHello
	var err error

	if token := tc.pickReconnectToken(); token != nil {
		hello, err = protocol.NewReconnectHello(token)
	} else {
		var subDomain *string
		if tc.serverInfo != nil && tc.serverInfo.SubDomain != "" {
			sd := tc.serverInfo.SubDomain
			subDomain = &sd
			tc.logger.Debug().Str("subdomain", sd).Msg("Reusing subdomain from previous session")
		} else if tc.config.SubDomain != "" {
			sd := tc.config.SubDomain
			subDomain = &sd
		}

		var secretKey *protocol.SecretKey
		if tc.config.SecretKey != "" {
			secretKey = &protocol.SecretKey{Key: tc.config.SecretKey}
		}

		hello, err = protocol.NewClientHello(subDomain, secretKey)
		if err == nil && tc.config.Password != "" {
			password := tc.config.Password
			hello.Password = &password
		}
	}
	if err != nil {
		return fmt.Errorf("build client hello: %w", err)
	}

	hello.SetClientVersion(version.GetShortVersion())

	data, err := protocol.EncodeHello(hello)
	if err != nil {
		return fmt.Errorf("encode client hello: %w", err)
	}
	return tc.conn.WriteMessage(websocket.BinaryMessage, data)
}

// pickReconnectToken prefers a token learned from a prior Ping over the
// static one from config, since the server rotates tokens on every tick.
func (tc *TunnelClient) pickReconnectToken() *protocol.ReconnectToken {
	tc.reconnectMu.Lock()
	token := tc.reconnectToken
	tc.reconnectMu.Unlock()

	if token != nil {
		return token
	}
	if tc.config.ReconnectToken != "" {
		return &protocol.ReconnectToken{Token: tc.config.ReconnectToken}
	}
	return nil
}

// receiveServerHello receives the server hello response
func (tc *TunnelClient) receiveServerHello() error {
	_, raw, err := tc.conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("failed to read server hello: %w", err)
	}

	hello, err := protocol.DecodeServerHello(raw)
	if err != nil {
		return fmt.Errorf("failed to parse server hello: %w", err)
	}

	if hello.Type != protocol.ServerHelloSuccess {
		return fmt.Errorf("server rejected connection: %s - %s", hello.Type, hello.Error)
	}

	tc.serverInfo = hello
	return nil
}

// Run starts the client's main event loop
func (tc *TunnelClient) Run() error {
	tc.logger.Info().Msg("Client event loop started")

	go tc.writePump()
	go tc.readPump()

	<-tc.done

	tc.logger.Info().Msg("Client event loop ended")
	return nil
}

// readPump reads control frames off the WebSocket connection
func (tc *TunnelClient) readPump() {
	defer func() {
		tc.logger.Info().Msg("readPump stopped")
		tc.signalDone()
	}()

	tc.logger.Info().Msg("readPump started")

	for {
		msgType, raw, err := tc.conn.ReadMessage()
		if err != nil {
			tc.logger.Error().
				Err(err).
				Bool("is_unexpected", websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure)).
				Msg("control read error")
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		packet, err := protocol.DecodeControlPacket(raw)
		if err != nil {
			tc.logger.Warn().Err(err).Msg("malformed control frame from server")
			continue
		}

		tc.handlePacket(packet)
	}
}

// writePump writes queued control frames to the WebSocket connection
func (tc *TunnelClient) writePump() {
	defer tc.logger.Info().Msg("writePump stopped")
	tc.logger.Info().Msg("writePump started")

	for {
		select {
		case message, ok := <-tc.send:
			if !ok {
				tc.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := tc.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				tc.logger.Warn().Err(err).Msg("control write error")
				return
			}

		case <-tc.done:
			return
		}
	}
}

// handlePacket dispatches one decoded control packet from the server.
func (tc *TunnelClient) handlePacket(packet *protocol.ControlPacket) {
	switch packet.Type {
	case protocol.PacketPing:
		tc.logger.Debug().Bool("has_token", packet.Token != nil).Msg("received ping")
		if packet.Token != nil {
			tc.setReconnectToken(packet.Token)
		}
		tc.markAlive()
		tc.sendPacket(protocol.NewPingPacket(nil))

	case protocol.PacketInit:
		tc.logger.Info().Str("stream_id", packet.StreamID.String()).Msg("stream init")

	case protocol.PacketData:
		stream, exists := tc.getStream(packet.StreamID)
		if !exists {
			stream = tc.setupNewStream(packet.StreamID)
			if stream == nil {
				tc.logger.Error().Str("stream_id", packet.StreamID.String()).Msg("failed to open local tunnel for data")
				return
			}
		}

		select {
		case stream.DataChan <- packet.Data:
		case <-stream.Done:
			tc.logger.Debug().Str("stream_id", packet.StreamID.String()).Msg("stream closed while sending data")
		default:
			tc.logger.Warn().Str("stream_id", packet.StreamID.String()).Msg("stream data channel full")
		}

	case protocol.PacketEnd:
		streamID := packet.StreamID
		tc.logger.Debug().Str("stream_id", streamID.String()).Msg("received stream end")
		go func() {
			time.Sleep(5 * time.Second)
			tc.closeStream(streamID)
		}()

	case protocol.PacketRefused:
		tc.logger.Warn().Str("stream_id", packet.StreamID.String()).Msg("unexpected refused packet from server")

	default:
		tc.logger.Warn().Str("type", packet.Type.String()).Msg("unknown packet type")
	}
}

// setupNewStream dials the local service for a stream the server just sent
// data for, refusing the stream back to the server on failure.
func (tc *TunnelClient) setupNewStream(streamID protocol.StreamID) *LocalStream {
	tc.logger.Info().Str("stream_id", streamID.String()).Msg("setting up local stream")

	localConn, err := tc.dialLocal()
	if err != nil {
		tc.logger.Error().Err(err).Msg("failed to connect to local service")
		tc.sendPacket(protocol.NewRefusedPacket(streamID))
		return nil
	}

	stream := &LocalStream{
		ID:             streamID,
		LocalConn:      localConn,
		DataChan:       make(chan []byte, 512), // buffered for throughput
		Done:           make(chan struct{}),
		RequestWritten: make(chan struct{}),
		captureEnabled: tc.config.EnableDashboard,
		StartTime:      time.Now(),
	}

	tc.addStream(stream)

	// proxyToLocal writes request data, then signals proxyFromLocal to read the response
	go tc.proxyToLocal(stream)
	go tc.proxyFromLocal(stream)

	return stream
}

// dialLocal connects to the configured local service, optionally wrapping
// the connection in TLS (config.LocalTLS).
func (tc *TunnelClient) dialLocal() (net.Conn, error) {
	addr := net.JoinHostPort(tc.config.LocalHost, fmt.Sprintf("%d", tc.config.LocalPort))
	conn, err := net.DialTimeout("tcp", addr, 5*time.Second)
	if err != nil {
		return nil, err
	}

	if !tc.config.LocalTLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, &tls.Config{
		ServerName:         tc.config.LocalHost,
		InsecureSkipVerify: tc.config.InsecureTLS,
	})
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("local TLS handshake: %w", err)
	}
	return tlsConn, nil
}

// proxyToLocal forwards data from the tunnel to the local server
func (tc *TunnelClient) proxyToLocal(stream *LocalStream) {
	defer func() {
		tc.logger.Debug().Str("stream_id", stream.ID.String()).Msg("proxyToLocal finished")
	}()

	requestComplete := false

	for {
		select {
		case data, ok := <-stream.DataChan:
			if !ok {
				return
			}

			if !requestComplete && len(data) > 0 {
				parseRequestLine(stream, data)
			}

			if stream.captureEnabled {
				stream.RequestData = append(stream.RequestData, data...)
			}

			n, err := stream.LocalConn.Write(data)
			if err != nil {
				tc.logger.Debug().Err(err).Str("stream_id", stream.ID.String()).Msg("Failed to write to local server")
				return
			}
			stream.BytesSent += int64(n)

			if !requestComplete {
				requestComplete = true
				close(stream.RequestWritten)
				tc.logger.Debug().Str("stream_id", stream.ID.String()).Int("bytes", n).Msg("HTTP request written to local server, signaling reader")
			}

		case <-stream.Done:
			return
		}
	}
}

// parseRequestLine extracts the method, path and source IP from the first
// chunk of an HTTP request for the console log and dashboard capture.
func parseRequestLine(stream *LocalStream, data []byte) {
	dataStr := string(data)

	lines := make([]string, 0)
	lastIdx := 0
	for i := 0; i < len(dataStr); i++ {
		if dataStr[i] == '\n' {
			lines = append(lines, dataStr[lastIdx:i])
			lastIdx = i + 1
			if len(lines) >= 20 { // only the first headers matter
				break
			}
		}
	}
	if len(lines) == 0 {
		return
	}

	parts := splitOnSpace(lines[0])
	if len(parts) >= 2 {
		stream.Method = parts[0]
		stream.Path = parts[1]
	}

	for i := 1; i < len(lines); i++ {
		line := lines[i]
		if len(line) > 16 && (line[:16] == "X-Forwarded-For:" || line[:16] == "x-forwarded-for:") {
			stream.SourceIP = trimCR(line[17:])
			break
		} else if len(line) > 11 && (line[:11] == "X-Real-IP: " || line[:11] == "x-real-ip: ") {
			stream.SourceIP = trimCR(line[11:])
			break
		}
	}
}

func splitOnSpace(line string) []string {
	parts := make([]string, 0)
	lastIdx := 0
	for i := 0; i < len(line); i++ {
		if line[i] == ' ' {
			if i > lastIdx {
				parts = append(parts, line[lastIdx:i])
			}
			lastIdx = i + 1
		}
	}
	if lastIdx < len(line) {
		parts = append(parts, line[lastIdx:])
	}
	return parts
}

func trimCR(s string) string {
	if len(s) > 0 && s[len(s)-1] == '\r' {
		return s[:len(s)-1]
	}
	return s
}

// proxyFromLocal forwards data from the local server to the tunnel
func (tc *TunnelClient) proxyFromLocal(stream *LocalStream) {
	defer func() {
		tc.logRequestLine(stream)

		if stream.captureEnabled && len(stream.RequestData) > 0 {
			introspect.CaptureStream(stream.RequestData, stream.ResponseData)
		}

		tc.sendStreamEnd(stream.ID)
		tc.closeStream(stream.ID)
	}()

	tc.logger.Debug().Str("stream_id", stream.ID.String()).Msg("Waiting for request to be written...")
	<-stream.RequestWritten

	// Give the local server a moment to process before reading its response
	time.Sleep(10 * time.Millisecond)

	bufPtr := bufferPool.Get().(*[]byte)
	buf := *bufPtr
	defer bufferPool.Put(bufPtr)

	for {
		select {
		case <-stream.Done:
			return
		default:
			timeout := 5 * time.Second
			if stream.firstRead {
				timeout = 500 * time.Millisecond
			}
			stream.LocalConn.SetReadDeadline(time.Now().Add(timeout))

			n, err := stream.LocalConn.Read(buf)
			if err != nil {
				if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
					if stream.BytesRecv > 0 {
						stream.EndTime = time.Now()
						return
					}
					continue
				}
				if err == io.EOF {
					stream.EndTime = time.Now()
				} else {
					tc.logger.Debug().Err(err).Str("stream_id", stream.ID.String()).Msg("local connection closed")
				}
				return
			}

			if n > 0 {
				if !stream.firstRead {
					stream.firstRead = true
				}
				stream.BytesRecv += int64(n)

				if stream.captureEnabled {
					stream.ResponseData = append(stream.ResponseData, buf[:n]...)
				}

				if stream.BytesRecv == int64(n) {
					parseStatusLine(stream, buf[:n])
				}

				tc.sendPacket(protocol.NewDataPacket(stream.ID, append([]byte(nil), buf[:n]...)))
			}
		}
	}
}

// parseStatusLine extracts the HTTP status code from the first chunk of a
// local server's response, for the console log.
func parseStatusLine(stream *LocalStream, data []byte) {
	if len(data) <= 12 {
		return
	}
	statusLine := string(data)
	if statusLine[:5] != "HTTP/" {
		return
	}

	endIdx := 0
	for i := 0; i < len(statusLine) && i < 100; i++ {
		if statusLine[i] == '\n' {
			endIdx = i
			break
		}
	}
	if endIdx == 0 {
		return
	}

	parts := splitOnSpace(statusLine[:endIdx])
	if len(parts) < 2 {
		return
	}

	statusCode := 0
	for i := 0; i < len(parts[1]); i++ {
		if parts[1][i] >= '0' && parts[1][i] <= '9' {
			statusCode = statusCode*10 + int(parts[1][i]-'0')
		}
	}
	stream.StatusCode = statusCode
}

// logRequestLine prints one access-log line for a completed stream, in the
// style of a local reverse proxy's console output.
func (tc *TunnelClient) logRequestLine(stream *LocalStream) {
	if stream.StatusCode == 0 || stream.Method == "" {
		return
	}

	endTime := stream.EndTime
	if endTime.IsZero() {
		endTime = time.Now()
	}
	latency := endTime.Sub(stream.StartTime)
	timestamp := stream.StartTime.Format("2006/01/02 15:04:05")
	sourceIP := stream.SourceIP
	if sourceIP == "" {
		sourceIP = "-"
	}

	statusColor, resetColor := "", ""
	switch {
	case stream.StatusCode >= 200 && stream.StatusCode < 300:
		statusColor, resetColor = "\033[32m", "\033[0m"
	case stream.StatusCode >= 300 && stream.StatusCode < 400:
		statusColor, resetColor = "\033[36m", "\033[0m"
	case stream.StatusCode >= 400 && stream.StatusCode < 500:
		statusColor, resetColor = "\033[33m", "\033[0m"
	case stream.StatusCode >= 500:
		statusColor, resetColor = "\033[31m", "\033[0m"
	}

	fmt.Printf("%s %s \"%s %s\" %s%d%s %d %d %dms\n",
		timestamp, sourceIP, stream.Method, stream.Path,
		statusColor, stream.StatusCode, resetColor,
		stream.BytesSent, stream.BytesRecv, latency.Milliseconds())
}

// sendPacket encodes and queues a control packet for delivery, dropping it
// if the send buffer is full rather than blocking the caller.
func (tc *TunnelClient) sendPacket(p *protocol.ControlPacket) {
	data := protocol.EncodeControlPacket(p)
	select {
	case tc.send <- data:
	case <-tc.done:
	default:
		tc.logger.Warn().Str("type", p.Type.String()).Msg("send buffer full, dropping packet")
	}
}

// sendStreamEnd tells the server this stream's local side is done.
func (tc *TunnelClient) sendStreamEnd(streamID protocol.StreamID) {
	tc.sendPacket(protocol.NewEndPacket(streamID))
}

// addStream adds a stream to the client
func (tc *TunnelClient) addStream(stream *LocalStream) {
	tc.streamMux.Lock()
	defer tc.streamMux.Unlock()
	tc.streams[stream.ID] = stream
}

// getStream retrieves a stream by ID
func (tc *TunnelClient) getStream(streamID protocol.StreamID) (*LocalStream, bool) {
	tc.streamMux.RLock()
	defer tc.streamMux.RUnlock()
	stream, exists := tc.streams[streamID]
	return stream, exists
}

// closeStream closes a stream
func (tc *TunnelClient) closeStream(streamID protocol.StreamID) {
	tc.streamMux.Lock()
	defer tc.streamMux.Unlock()

	stream, exists := tc.streams[streamID]
	if !exists {
		return
	}

	stream.close()
	delete(tc.streams, streamID)

	tc.logger.Debug().
		Str("stream_id", streamID.String()).
		Int64("bytes_sent", stream.BytesSent).
		Int64("bytes_recv", stream.BytesRecv).
		Msg("Stream closed")
}

func (s *LocalStream) close() {
	s.closeOnce.Do(func() {
		close(s.Done)
		s.LocalConn.Close()
	})
}

// signalDone marks the connection broken, waking Run and the watchdog.
func (tc *TunnelClient) signalDone() {
	tc.closeMutex.Lock()
	defer tc.closeMutex.Unlock()
	if !tc.closed {
		tc.closed = true
		close(tc.done)
	}
}

// Close closes the client connection
func (tc *TunnelClient) Close() error {
	tc.closeMutex.Lock()
	if tc.closed {
		tc.closeMutex.Unlock()
		return nil
	}
	tc.closed = true
	tc.closeMutex.Unlock()

	select {
	case <-tc.done:
	default:
		close(tc.done)
	}

	tc.streamMux.Lock()
	for _, stream := range tc.streams {
		stream.close()
	}
	tc.streams = make(map[protocol.StreamID]*LocalStream)
	tc.streamMux.Unlock()

	if tc.conn != nil {
		tc.conn.Close()
	}

	tc.logger.Info().Msg("Client closed")
	return nil
}

// setReconnectToken remembers the latest token rotated in by the server.
func (tc *TunnelClient) setReconnectToken(token *protocol.ReconnectToken) {
	tc.reconnectMu.Lock()
	tc.reconnectToken = token
	tc.reconnectMu.Unlock()
}

// markAlive records that traffic was just seen from the server, resetting
// the liveness watchdog.
func (tc *TunnelClient) markAlive() {
	tc.lastPingMu.Lock()
	tc.lastPing = time.Now()
	tc.lastPingMu.Unlock()
}

// SilentFor reports how long it has been since the server was last heard
// from. The caller's watchdog restarts the connection once this exceeds
// config.SilenceTimeout.
func (tc *TunnelClient) SilentFor() time.Duration {
	tc.lastPingMu.Lock()
	defer tc.lastPingMu.Unlock()
	if tc.lastPing.IsZero() {
		return 0
	}
	return time.Since(tc.lastPing)
}

// GetServerInfo returns the server information
func (tc *TunnelClient) GetServerInfo() *protocol.ServerHello {
	return tc.serverInfo
}

// RotateToNextServer rotates to the next server in the cluster
func (tc *TunnelClient) RotateToNextServer() {
	tc.currentServerIdx = (tc.currentServerIdx + 1) % len(tc.serverList)
	tc.logger.Info().
		Int("new_server_index", tc.currentServerIdx).
		Int("total_servers", len(tc.serverList)).
		Str("server", fmt.Sprintf("%s:%d", tc.serverList[tc.currentServerIdx].Host, tc.serverList[tc.currentServerIdx].Port)).
		Msg("Rotated to next server")
}

// GetCurrentServer returns the current server info
func (tc *TunnelClient) GetCurrentServer() config.ServerNode {
	return tc.serverList[tc.currentServerIdx]
}

// GetServerCount returns the number of servers in the cluster
func (tc *TunnelClient) GetServerCount() int {
	return len(tc.serverList)
}

// GetActiveStreams returns the number of active streams
func (tc *TunnelClient) GetActiveStreams() int {
	tc.streamMux.RLock()
	defer tc.streamMux.RUnlock()
	return len(tc.streams)
}

package server

import (
	"context"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sombochea/tungo/internal/registry"
	"github.com/sombochea/tungo/pkg/config"
	"github.com/sombochea/tungo/pkg/protocol"
)

// ControlServer handles client control connections: the WebSocket
// handshake, the per-session read/write pumps, and the periodic ping that
// both keeps the connection alive and rotates the client's reconnect
// token.
type ControlServer struct {
	config       *config.ServerConfig
	connMgr      *ConnectionManager
	auth         Authenticator
	logger       zerolog.Logger
	distRegistry *registry.DistributedRegistry
}

// NewControlServer creates a new control server.
func NewControlServer(
	cfg *config.ServerConfig,
	connMgr *ConnectionManager,
	auth Authenticator,
	logger zerolog.Logger,
	distRegistry *registry.DistributedRegistry,
) *ControlServer {
	return &ControlServer{
		config:       cfg,
		connMgr:      connMgr,
		auth:         auth,
		logger:       logger,
		distRegistry: distRegistry,
	}
}

// HandleConnection drives one client's control channel from the initial
// hello through to disconnection.
func (cs *ControlServer) HandleConnection(c *websocket.Conn) {
	defer c.Close()

	logger := cs.logger.With().Str("remote_addr", c.RemoteAddr().String()).Logger()
	logger.Info().Msg("new control connection")

	ctx := context.Background()

	_, raw, err := c.ReadMessage()
	if err != nil {
		logger.Error().Err(err).Msg("failed to read client hello")
		return
	}

	hello, err := protocol.DecodeClientHello(raw)
	if err != nil {
		logger.Error().Err(err).Msg("malformed client hello")
		cs.sendErrorHello(c, protocol.ServerHelloError, "malformed hello")
		return
	}

	logger = logger.With().Str("client_id", hello.ID.String()).Logger()

	serverHello, clientID, subDomain, isAnonymous, err := cs.authenticate(ctx, hello)
	if err != nil {
		logger.Warn().Err(err).Msg("handshake rejected")
		cs.sendServerHello(c, serverHello)
		return
	}

	host := fmt.Sprintf("%s.%s", subDomain, cs.config.PortalHost)
	password := ""
	if hello.Password != nil {
		password = *hello.Password
	}

	clientConn, err := cs.connMgr.AddClient(ClientRegistration{
		ClientID:      clientID,
		SubDomain:     subDomain,
		Host:          host,
		IsAnonymous:   isAnonymous,
		Password:      password,
		ClientVersion: hello.ClientVersion,
		Conn:          c,
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to register client")
		cs.sendErrorHello(c, protocol.ServerHelloError, err.Error())
		return
	}
	defer func() {
		cs.connMgr.RemoveClient(clientID)
		if cs.distRegistry != nil {
			if err := cs.distRegistry.UnregisterTunnel(subDomain); err != nil {
				logger.Error().Err(err).Msg("failed to unregister tunnel")
			}
		}
	}()

	if cs.distRegistry != nil {
		tunnelInfo := &registry.TunnelInfo{
			Subdomain:   subDomain,
			ServerHost:  cs.config.Host,
			ClientID:    clientID.String(),
			ProxyPort:   cs.config.RemotePort,
			ControlPort: cs.config.ControlPort,
			CreatedAt:   time.Now(),
		}
		if err := cs.distRegistry.RegisterTunnel(tunnelInfo); err != nil {
			logger.Error().Err(err).Msg("failed to register tunnel in distributed registry")
		}
	}

	serverHello.Hostname = host
	scheme := "http"
	if cs.config.PortalTLS {
		scheme = "https"
	}
	serverHello.PublicURL = fmt.Sprintf("%s://%s", scheme, host)

	if err := cs.sendServerHello(c, serverHello); err != nil {
		logger.Error().Err(err).Msg("failed to send server hello")
		return
	}

	logger.Info().Str("host", host).Msg("client authenticated, tunnel established")

	go cs.writePump(clientConn)
	cs.readPump(clientConn)
}

// authenticate resolves a hello (fresh or reconnect) to an identity and
// host, or produces the rejecting ServerHello to send back.
func (cs *ControlServer) authenticate(ctx context.Context, hello *protocol.ClientHello) (*protocol.ServerHello, protocol.ClientID, string, bool, error) {
	var result *AuthResult
	var subDomain string
	var err error

	if hello.ReconnectToken != nil {
		result, err = cs.auth.ResolveReconnectToken(ctx, hello.ReconnectToken)
		if err != nil {
			return protocol.NewErrorHello(protocol.ServerHelloAuthFailed, "invalid reconnect token"), "", "", false, err
		}
		// Reconnects reuse the session's prior subdomain/hostname rather
		// than minting a new random one: the reconnect token was bound
		// to them when it was issued.
		subDomain = result.SubDomain
	} else {
		if hello.ClientType == protocol.ClientTypeAnonymous && !cs.config.AllowAnonymous {
			err := fmt.Errorf("anonymous clients not allowed")
			return protocol.NewErrorHello(protocol.ServerHelloAuthFailed, err.Error()), "", "", false, err
		}
		result, err = cs.auth.Authenticate(ctx, hello)
		if err != nil {
			return protocol.NewErrorHello(protocol.ServerHelloAuthFailed, err.Error()), "", "", false, err
		}
		subDomain, err = cs.resolveSubDomain(hello, result.ClientID)
		if err != nil {
			return protocol.NewErrorHello(protocol.ServerHelloInvalidSubDomain, err.Error()), "", "", false, err
		}
	}

	host := fmt.Sprintf("%s.%s", subDomain, cs.config.PortalHost)
	if existing, exists := cs.connMgr.GetClientByHost(host); exists && existing.ID != result.ClientID {
		err := fmt.Errorf("subdomain already in use")
		return protocol.NewErrorHello(protocol.ServerHelloSubDomainInUse, err.Error()), "", "", false, err
	}

	serverHello := protocol.NewSuccessHello(subDomain, host, "", result.ClientID, nil)
	return serverHello, result.ClientID, subDomain, result.IsAnonymous, nil
}

// resolveSubDomain validates a requested subdomain or mints a random one,
// rejecting anything on the blocklist.
func (cs *ControlServer) resolveSubDomain(hello *protocol.ClientHello, clientID protocol.ClientID) (string, error) {
	if hello.SubDomain == nil || *hello.SubDomain == "" {
		for {
			sub, err := protocol.GenerateRandomSubDomain()
			if err != nil {
				return "", err
			}
			if !cs.isBlockedSubDomain(sub) {
				return sub, nil
			}
		}
	}

	sub := *hello.SubDomain
	if err := protocol.ValidateSubDomain(sub); err != nil {
		return "", err
	}
	if cs.isBlockedSubDomain(sub) {
		return "", fmt.Errorf("subdomain %q is reserved", sub)
	}
	return sub, nil
}

func (cs *ControlServer) isBlockedSubDomain(sub string) bool {
	for _, blocked := range cs.config.BlockedSubDomains {
		if blocked == sub {
			return true
		}
	}
	return false
}

// readPump decodes binary control frames off the WebSocket until it errors
// or the client disconnects.
func (cs *ControlServer) readPump(client *ClientConnection) {
	defer cs.connMgr.RemoveClient(client.ID)

	for {
		msgType, raw, err := client.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				client.Logger.Error().Err(err).Msg("control read error")
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		packet, err := protocol.DecodeControlPacket(raw)
		if err != nil {
			client.Logger.Warn().Err(err).Msg("malformed frame from client")
			continue
		}

		cs.handlePacket(client, packet)
	}
}

// writePump drains queued outbound frames and periodically pings the
// client with a freshly minted reconnect token.
func (cs *ControlServer) writePump(client *ClientConnection) {
	interval := cs.config.PingInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.Send:
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				client.Logger.Error().Err(err).Msg("control write error")
				return
			}

		case <-ticker.C:
			token, err := cs.auth.IssueReconnectToken(context.Background(), &AuthResult{
				ClientID:    client.ID,
				IsAnonymous: client.IsAnonymous,
				SubDomain:   client.SubDomain,
				Host:        client.Host,
			})
			if err != nil {
				client.Logger.Warn().Err(err).Msg("failed to issue reconnect token")
				token = nil
			}
			frame := protocol.EncodeControlPacket(protocol.NewPingPacket(token))
			if err := client.Conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				client.Logger.Error().Err(err).Msg("failed to send ping")
				return
			}

		case <-client.Done:
			return
		}
	}
}

// handlePacket dispatches one decoded control packet from the client.
func (cs *ControlServer) handlePacket(client *ClientConnection, packet *protocol.ControlPacket) {
	switch packet.Type {
	case protocol.PacketData:
		stream, exists := client.GetStream(packet.StreamID)
		if !exists {
			client.Logger.Debug().Str("stream_id", packet.StreamID.String()).Msg("data for unknown stream")
			return
		}
		if !stream.Offer(StreamMessage{Type: StreamData, Data: packet.Data}) {
			client.Logger.Warn().Str("stream_id", packet.StreamID.String()).Msg("stream inbound queue full, dropping stream")
			stream.Offer(StreamMessage{Type: StreamTunnelRefused})
			client.RemoveStream(packet.StreamID)
		}

	case protocol.PacketRefused:
		if stream, exists := client.GetStream(packet.StreamID); exists {
			stream.Offer(StreamMessage{Type: StreamTunnelRefused})
		}
		client.RemoveStream(packet.StreamID)

	case protocol.PacketEnd:
		// Enqueue Close behind whatever Data is already queued, then
		// linger 5 seconds before actually dropping the stream so that
		// queued data still gets a chance to drain.
		if stream, exists := client.GetStream(packet.StreamID); exists {
			stream.Offer(StreamMessage{Type: StreamClose})
		}
		streamID := packet.StreamID
		go func() {
			time.Sleep(5 * time.Second)
			client.RemoveStream(streamID)
		}()

	case protocol.PacketPing:
		client.Logger.Debug().Msg("received client ping")

	default:
		client.Logger.Warn().Str("type", packet.Type.String()).Msg("unexpected packet direction from client")
	}
}

// sendServerHello writes the JSON server hello as a single binary message.
func (cs *ControlServer) sendServerHello(c *websocket.Conn, hello *protocol.ServerHello) error {
	data, err := protocol.EncodeHello(hello)
	if err != nil {
		return err
	}
	return c.WriteMessage(websocket.BinaryMessage, data)
}

// sendErrorHello writes a rejecting server hello, best-effort.
func (cs *ControlServer) sendErrorHello(c *websocket.Conn, helloType protocol.ServerHelloType, errorMsg string) {
	hello := protocol.NewErrorHello(helloType, errorMsg)
	_ = cs.sendServerHello(c, hello)
}

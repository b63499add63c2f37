package server

import (
	"fmt"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/sombochea/tungo/internal/registry"
	"github.com/sombochea/tungo/pkg/protocol"
)

// StreamMessageType tags the kind of message flowing through a stream's
// inbound queue, from the control channel towards the raw end-user socket.
type StreamMessageType int

const (
	StreamData StreamMessageType = iota
	StreamClose
	StreamTunnelRefused
	StreamNoClientTunnel
)

// StreamMessage is one entry in an ActiveStream's inbound queue.
type StreamMessage struct {
	Type StreamMessageType
	Data []byte
}

// ActiveStream tracks one end-user connection multiplexed over a client's
// control channel: the remote dispatcher reads raw bytes off Inbound and
// writes them to the socket it accepted; it stops on StreamClose,
// StreamTunnelRefused or StreamNoClientTunnel.
type ActiveStream struct {
	ID         protocol.StreamID
	ClientID   protocol.ClientID
	RemoteAddr string
	Inbound    chan StreamMessage
	done       chan struct{}
	closeOnce  sync.Once
}

// NewActiveStream creates a stream with a bounded inbound queue. A full
// queue is a backpressure signal: the caller should refuse rather than
// block the control channel reader.
func NewActiveStream(id protocol.StreamID, clientID protocol.ClientID, remoteAddr string) *ActiveStream {
	return &ActiveStream{
		ID:         id,
		ClientID:   clientID,
		RemoteAddr: remoteAddr,
		Inbound:    make(chan StreamMessage, 256),
		done:       make(chan struct{}),
	}
}

// Done reports when the stream has been torn down.
func (s *ActiveStream) Done() <-chan struct{} { return s.done }

// Close tears down the stream, unblocking any reader waiting on Done.
func (s *ActiveStream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Offer enqueues a message without blocking; it reports whether the queue
// had room. Callers must treat a false return as "refuse this stream",
// never as a reason to block the control reader.
func (s *ActiveStream) Offer(msg StreamMessage) bool {
	select {
	case s.Inbound <- msg:
		return true
	default:
		return false
	}
}

// ClientRegistration carries the identity fields a freshly authenticated
// control connection registers with.
type ClientRegistration struct {
	ClientID      protocol.ClientID
	SubDomain     string
	Host          string
	IsAnonymous   bool
	Password      string
	ClientVersion string
	Conn          *websocket.Conn
}

// ClientConnection represents a connected tunnel client and the set of
// streams currently multiplexed over its control channel.
type ClientConnection struct {
	ID            protocol.ClientID
	SubDomain     string
	Host          string
	IsAnonymous   bool
	Password      string
	ClientVersion string
	Conn          *websocket.Conn
	Streams       map[protocol.StreamID]*ActiveStream
	StreamMutex   sync.RWMutex
	Logger        zerolog.Logger
	Send          chan []byte
	Done          chan struct{}
}

// ConnectionManager is the server's client registry (spec C2): a
// clientID-keyed table with a secondary host index, kept consistent with
// a tombstone-safe removal so a stale disconnect can never evict a
// newer client's claim on a host.
type ConnectionManager struct {
	clients       map[protocol.ClientID]*ClientConnection
	hosts         map[string]protocol.ClientID
	mutex         sync.RWMutex
	registry      registry.Registry
	logger        zerolog.Logger
	maxConnection int
}

// NewConnectionManager creates a new connection manager.
func NewConnectionManager(reg registry.Registry, logger zerolog.Logger, maxConn int) *ConnectionManager {
	return &ConnectionManager{
		clients:       make(map[protocol.ClientID]*ClientConnection),
		hosts:         make(map[string]protocol.ClientID),
		registry:      reg,
		logger:        logger,
		maxConnection: maxConn,
	}
}

// AddClient registers a newly authenticated client connection.
func (cm *ConnectionManager) AddClient(reg ClientRegistration) (*ClientConnection, error) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	if len(cm.clients) >= cm.maxConnection {
		return nil, fmt.Errorf("maximum connections reached")
	}

	if existingID, exists := cm.hosts[reg.Host]; exists && existingID != reg.ClientID {
		return nil, fmt.Errorf("subdomain already in use")
	}

	client := &ClientConnection{
		ID:            reg.ClientID,
		SubDomain:     reg.SubDomain,
		Host:          reg.Host,
		IsAnonymous:   reg.IsAnonymous,
		Password:      reg.Password,
		ClientVersion: reg.ClientVersion,
		Conn:          reg.Conn,
		Streams:       make(map[protocol.StreamID]*ActiveStream),
		Logger:        cm.logger.With().Str("client_id", reg.ClientID.String()).Str("host", reg.Host).Logger(),
		Send:          make(chan []byte, 512),
		Done:          make(chan struct{}),
	}

	cm.clients[reg.ClientID] = client
	cm.hosts[reg.Host] = reg.ClientID

	cm.logger.Info().
		Str("client_id", reg.ClientID.String()).
		Str("host", reg.Host).
		Bool("anonymous", reg.IsAnonymous).
		Msg("client connected")

	return client, nil
}

// RemoveClient tears down a client connection. The host index entry is
// only dropped if it still points at this client id, so a client that has
// already reconnected under a fresh registration keeps its host.
func (cm *ConnectionManager) RemoveClient(clientID protocol.ClientID) {
	cm.mutex.Lock()
	defer cm.mutex.Unlock()

	client, exists := cm.clients[clientID]
	if !exists {
		return
	}

	if cm.hosts[client.Host] == clientID {
		delete(cm.hosts, client.Host)
	}

	client.StreamMutex.Lock()
	for _, stream := range client.Streams {
		stream.Close()
	}
	client.Streams = make(map[protocol.StreamID]*ActiveStream)
	client.StreamMutex.Unlock()

	close(client.Done)
	delete(cm.clients, clientID)

	cm.logger.Info().
		Str("client_id", clientID.String()).
		Str("host", client.Host).
		Msg("client disconnected")
}

// GetClient retrieves a client by ID.
func (cm *ConnectionManager) GetClient(clientID protocol.ClientID) (*ClientConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	client, exists := cm.clients[clientID]
	return client, exists
}

// GetClientByHost retrieves a client by its fully-qualified host.
func (cm *ConnectionManager) GetClientByHost(host string) (*ClientConnection, bool) {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	clientID, exists := cm.hosts[host]
	if !exists {
		return nil, false
	}
	client, exists := cm.clients[clientID]
	return client, exists
}

// IsHostAvailable reports whether no client currently holds this host.
func (cm *ConnectionManager) IsHostAvailable(host string) bool {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	_, exists := cm.hosts[host]
	return !exists
}

// ActiveConnections returns the number of connected clients.
func (cm *ConnectionManager) ActiveConnections() int {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()
	return len(cm.clients)
}

// ListHosts returns all currently claimed hosts.
func (cm *ConnectionManager) ListHosts() []string {
	cm.mutex.RLock()
	defer cm.mutex.RUnlock()

	hosts := make([]string, 0, len(cm.hosts))
	for host := range cm.hosts {
		hosts = append(hosts, host)
	}
	return hosts
}

// AddStream registers a new active stream under this client.
func (cc *ClientConnection) AddStream(streamID protocol.StreamID, remoteAddr string) *ActiveStream {
	cc.StreamMutex.Lock()
	defer cc.StreamMutex.Unlock()

	stream := NewActiveStream(streamID, cc.ID, remoteAddr)
	cc.Streams[streamID] = stream

	cc.Logger.Debug().
		Str("stream_id", streamID.String()).
		Str("remote_addr", remoteAddr).
		Msg("stream added")

	return stream
}

// GetStream retrieves a stream by ID.
func (cc *ClientConnection) GetStream(streamID protocol.StreamID) (*ActiveStream, bool) {
	cc.StreamMutex.RLock()
	defer cc.StreamMutex.RUnlock()
	stream, exists := cc.Streams[streamID]
	return stream, exists
}

// RemoveStream removes and closes a stream.
func (cc *ClientConnection) RemoveStream(streamID protocol.StreamID) {
	cc.StreamMutex.Lock()
	defer cc.StreamMutex.Unlock()

	stream, exists := cc.Streams[streamID]
	if !exists {
		return
	}

	stream.Close()
	delete(cc.Streams, streamID)

	cc.Logger.Debug().Str("stream_id", streamID.String()).Msg("stream removed")
}

// ActiveStreams returns the number of streams currently open on this client.
func (cc *ClientConnection) ActiveStreams() int {
	cc.StreamMutex.RLock()
	defer cc.StreamMutex.RUnlock()
	return len(cc.Streams)
}

// SendPacket queues a binary control packet for delivery to the client.
// A full send buffer is reported back rather than blocking the caller.
func (cc *ClientConnection) SendPacket(p *protocol.ControlPacket) error {
	data := protocol.EncodeControlPacket(p)

	select {
	case cc.Send <- data:
		return nil
	case <-cc.Done:
		return fmt.Errorf("client connection closed")
	default:
		return fmt.Errorf("send buffer full")
	}
}

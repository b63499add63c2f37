// Package protocol defines the wire format shared by the tunnel server and
// client: client/stream identifiers, the JSON hello handshake, and the
// binary-framed ControlPacket stream that rides over the WebSocket control
// channel once a session is established.
package protocol

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"regexp"
)

// ClientID identifies one connected tunnel client, derived from a secret
// key or generated at random for anonymous sessions.
type ClientID string

// GenerateClientID creates a random client id: 32 bytes, base64url, no padding.
func GenerateClientID() (ClientID, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return ClientID(base64.RawURLEncoding.EncodeToString(b)), nil
}

// String returns the string representation of the client ID.
func (c ClientID) String() string {
	return string(c)
}

// SecretKey is a 22-char alphanumeric authentication key.
type SecretKey struct {
	Key string `json:"key"`
}

const secretKeyAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"

// GenerateSecretKey creates a new random 22-character alphanumeric key.
func GenerateSecretKey() (*SecretKey, error) {
	b := make([]byte, 22)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate secret key: %w", err)
	}
	for i, v := range b {
		b[i] = secretKeyAlphabet[int(v)%len(secretKeyAlphabet)]
	}
	return &SecretKey{Key: string(b)}, nil
}

// ClientIDFromKey derives the stable ClientID for this secret key via SHA-256.
func (s *SecretKey) ClientIDFromKey() ClientID {
	sum := sha256.Sum256([]byte(s.Key))
	return ClientID(base64.RawURLEncoding.EncodeToString(sum[:]))
}

// ReconnectToken is an opaque bearer credential that re-binds a fresh
// control channel to a previous session's identity.
type ReconnectToken struct {
	Token string `json:"token"`
}

// GenerateReconnectToken creates a new random reconnect token.
func GenerateReconnectToken() (*ReconnectToken, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generate reconnect token: %w", err)
	}
	return &ReconnectToken{Token: base64.RawURLEncoding.EncodeToString(b)}, nil
}

// ClientType distinguishes the authentication shape of a ClientHello.
type ClientType string

const (
	ClientTypeAuth      ClientType = "auth"
	ClientTypeAnonymous ClientType = "anonymous"
)

// ClientHello is the first message a client sends on the control channel.
type ClientHello struct {
	ID             ClientID        `json:"id"`
	SubDomain      *string         `json:"sub_domain,omitempty"`
	ClientType     ClientType      `json:"client_type"`
	ClientVersion  string          `json:"client_version,omitempty"`
	SecretKey      *SecretKey      `json:"secret_key,omitempty"`
	ReconnectToken *ReconnectToken `json:"reconnect_token,omitempty"`
	Password       *string         `json:"password,omitempty"`
}

// NewClientHello builds a fresh (non-reconnect) hello.
func NewClientHello(subDomain *string, secretKey *SecretKey) (*ClientHello, error) {
	id, err := GenerateClientID()
	if err != nil {
		return nil, err
	}
	hello := &ClientHello{ID: id, SubDomain: subDomain}
	if secretKey != nil {
		hello.ClientType = ClientTypeAuth
		hello.SecretKey = secretKey
	} else {
		hello.ClientType = ClientTypeAnonymous
	}
	return hello, nil
}

// SetClientVersion sets the client version advertised in the hello.
func (h *ClientHello) SetClientVersion(version string) {
	h.ClientVersion = version
}

// NewReconnectHello builds a hello carrying a reconnect token.
func NewReconnectHello(token *ReconnectToken) (*ClientHello, error) {
	id, err := GenerateClientID()
	if err != nil {
		return nil, err
	}
	return &ClientHello{ID: id, ClientType: ClientTypeAnonymous, ReconnectToken: token}, nil
}

// ServerHelloType tags the discriminated ServerHello union.
type ServerHelloType string

const (
	ServerHelloSuccess          ServerHelloType = "success"
	ServerHelloSubDomainInUse   ServerHelloType = "sub_domain_in_use"
	ServerHelloInvalidSubDomain ServerHelloType = "invalid_sub_domain"
	ServerHelloAuthFailed       ServerHelloType = "auth_failed"
	ServerHelloError            ServerHelloType = "error"
)

// ServerHello is the server's reply to a ClientHello.
type ServerHello struct {
	Type           ServerHelloType `json:"type"`
	SubDomain      string          `json:"sub_domain,omitempty"`
	Hostname       string          `json:"hostname,omitempty"`
	PublicURL      string          `json:"public_url,omitempty"`
	ClientID       ClientID        `json:"client_id,omitempty"`
	ReconnectToken *ReconnectToken `json:"reconnect_token,omitempty"`
	Error          string          `json:"error,omitempty"`
}

// NewSuccessHello builds a successful ServerHello.
func NewSuccessHello(subDomain, hostname, publicURL string, clientID ClientID, token *ReconnectToken) *ServerHello {
	return &ServerHello{
		Type:           ServerHelloSuccess,
		SubDomain:      subDomain,
		Hostname:       hostname,
		PublicURL:      publicURL,
		ClientID:       clientID,
		ReconnectToken: token,
	}
}

// NewErrorHello builds a rejecting ServerHello of the given type.
func NewErrorHello(helloType ServerHelloType, errorMsg string) *ServerHello {
	return &ServerHello{Type: helloType, Error: errorMsg}
}

// EncodeHello marshals a ClientHello or ServerHello to JSON bytes — the
// payload of the first binary WebSocket message of a session.
func EncodeHello(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode hello: %w", err)
	}
	return data, nil
}

// DecodeClientHello parses the first message a client sends.
func DecodeClientHello(data []byte) (*ClientHello, error) {
	var hello ClientHello
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, fmt.Errorf("decode client hello: %w", err)
	}
	return &hello, nil
}

// DecodeServerHello parses the server's reply to a ClientHello.
func DecodeServerHello(data []byte) (*ServerHello, error) {
	var hello ServerHello
	if err := json.Unmarshal(data, &hello); err != nil {
		return nil, fmt.Errorf("decode server hello: %w", err)
	}
	return &hello, nil
}

// StreamID is an opaque 8-byte identifier minted for every end-user
// connection multiplexed over the tunnel.
type StreamID [8]byte

// emptyStreamID marks a Ping carrying no reconnect token.
var emptyStreamID = StreamID{0x0F, 0, 0, 0, 0, 0, 0, 0}

// tokenStreamID marks a Ping carrying a reconnect token.
var tokenStreamID = StreamID{0x0F, 0, 0, 0, 0, 0, 0, 1}

// GenerateStreamID creates a new random stream id.
func GenerateStreamID() (StreamID, error) {
	var id StreamID
	if _, err := rand.Read(id[:]); err != nil {
		return id, fmt.Errorf("generate stream id: %w", err)
	}
	return id, nil
}

// String renders the stream id for logging.
func (s StreamID) String() string {
	return "stream_" + base64.RawURLEncoding.EncodeToString(s[:])
}

// PacketType tags a decoded ControlPacket.
type PacketType byte

const (
	PacketInit    PacketType = 0x01
	PacketData    PacketType = 0x02
	PacketRefused PacketType = 0x03
	PacketEnd     PacketType = 0x04
	PacketPing    PacketType = 0x05
)

func (t PacketType) String() string {
	switch t {
	case PacketInit:
		return "INIT STREAM"
	case PacketData:
		return "STREAM DATA"
	case PacketRefused:
		return "REFUSED"
	case PacketEnd:
		return "END STREAM"
	case PacketPing:
		return "PING"
	default:
		return "UNKNOWN"
	}
}

// ControlPacket is the unit of the binary framing carried over the control
// WebSocket once a session is established: a tag byte, the 8-byte stream
// id, then trailing bytes specific to the tag.
type ControlPacket struct {
	Type     PacketType
	StreamID StreamID
	Data     []byte          // Data payload, PacketData only
	Token    *ReconnectToken // Ping token, PacketPing only
}

// NewInitPacket builds an Init control packet for the given stream.
func NewInitPacket(id StreamID) *ControlPacket {
	return &ControlPacket{Type: PacketInit, StreamID: id}
}

// NewDataPacket builds a Data control packet carrying the given payload.
func NewDataPacket(id StreamID, data []byte) *ControlPacket {
	return &ControlPacket{Type: PacketData, StreamID: id, Data: data}
}

// NewRefusedPacket builds a Refused control packet for the given stream.
func NewRefusedPacket(id StreamID) *ControlPacket {
	return &ControlPacket{Type: PacketRefused, StreamID: id}
}

// NewEndPacket builds an End control packet for the given stream.
func NewEndPacket(id StreamID) *ControlPacket {
	return &ControlPacket{Type: PacketEnd, StreamID: id}
}

// NewPingPacket builds a Ping control packet, optionally carrying a fresh
// reconnect token.
func NewPingPacket(token *ReconnectToken) *ControlPacket {
	return &ControlPacket{Type: PacketPing, Token: token}
}

// ErrMalformedFrame is returned when a binary message cannot be decoded
// into a ControlPacket.
var ErrMalformedFrame = fmt.Errorf("malformed control frame")

// EncodeControlPacket serializes a ControlPacket to its wire
// representation: tag byte, 8-byte stream id, then tag-specific trailing
// bytes.
func EncodeControlPacket(p *ControlPacket) []byte {
	switch p.Type {
	case PacketInit, PacketRefused, PacketEnd:
		buf := make([]byte, 0, 9)
		buf = append(buf, byte(p.Type))
		buf = append(buf, p.StreamID[:]...)
		return buf
	case PacketData:
		buf := make([]byte, 0, 9+len(p.Data))
		buf = append(buf, byte(p.Type))
		buf = append(buf, p.StreamID[:]...)
		buf = append(buf, p.Data...)
		return buf
	case PacketPing:
		buf := make([]byte, 0, 9+32)
		buf = append(buf, byte(PacketPing))
		if p.Token == nil {
			buf = append(buf, emptyStreamID[:]...)
		} else {
			buf = append(buf, tokenStreamID[:]...)
			buf = append(buf, []byte(p.Token.Token)...)
		}
		return buf
	default:
		return nil
	}
}

// DecodeControlPacket parses the wire representation of a ControlPacket.
// Any Ping stream id other than the canonical empty-ping sentinel is
// treated as "token present, token = trailing bytes" — matching the
// reference implementation's leniency.
func DecodeControlPacket(data []byte) (*ControlPacket, error) {
	if len(data) < 9 {
		return nil, ErrMalformedFrame
	}
	var sid StreamID
	copy(sid[:], data[1:9])

	switch PacketType(data[0]) {
	case PacketInit:
		return &ControlPacket{Type: PacketInit, StreamID: sid}, nil
	case PacketData:
		payload := make([]byte, len(data)-9)
		copy(payload, data[9:])
		return &ControlPacket{Type: PacketData, StreamID: sid, Data: payload}, nil
	case PacketRefused:
		return &ControlPacket{Type: PacketRefused, StreamID: sid}, nil
	case PacketEnd:
		return &ControlPacket{Type: PacketEnd, StreamID: sid}, nil
	case PacketPing:
		if sid == emptyStreamID {
			return &ControlPacket{Type: PacketPing}, nil
		}
		return &ControlPacket{Type: PacketPing, Token: &ReconnectToken{Token: string(data[9:])}}, nil
	default:
		return nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrMalformedFrame, data[0])
	}
}

var subDomainPattern = regexp.MustCompile(`^[a-z0-9-]{1,63}$`)

// ValidateSubDomain checks the subdomain shape: lowercase alphanumeric and
// hyphen, 1-63 characters, never leading/trailing hyphen.
func ValidateSubDomain(subDomain string) error {
	if !subDomainPattern.MatchString(subDomain) {
		return fmt.Errorf("invalid subdomain: %q", subDomain)
	}
	if subDomain[0] == '-' || subDomain[len(subDomain)-1] == '-' {
		return fmt.Errorf("subdomain cannot start or end with hyphen: %q", subDomain)
	}
	return nil
}

const randomSubDomainAlphabet = "abcdefghijklmnopqrstuvwxyz"

// GenerateRandomSubDomain creates an 8-lowercase-letter subdomain.
func GenerateRandomSubDomain() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate subdomain: %w", err)
	}
	for i, v := range b {
		b[i] = randomSubDomainAlphabet[int(v)%len(randomSubDomainAlphabet)]
	}
	return string(b), nil
}

package server

import (
	"context"
	"fmt"
	"sync"

	"github.com/sombochea/tungo/pkg/protocol"
)

// AuthResult is what an Authenticator decides for a ClientHello: the
// identity to register the session under, and whether it is anonymous.
// SubDomain/Host are empty on a fresh Authenticate result (the control
// server fills them in once it has resolved a subdomain); a reconnect
// token binds the session's prior SubDomain/Host so ResolveReconnectToken
// can hand them straight back, letting the client keep its hostname
// across reconnects instead of being handed a fresh random one.
type AuthResult struct {
	ClientID    protocol.ClientID
	IsAnonymous bool
	SubDomain   string
	Host        string
}

// Authenticator is the pluggable identity layer sitting in front of the
// connection registry. The control endpoint consults it once per
// handshake, before a subdomain is claimed.
type Authenticator interface {
	// Authenticate resolves a ClientHello to an identity, or returns an
	// error to reject the handshake with ServerHelloAuthFailed.
	Authenticate(ctx context.Context, hello *protocol.ClientHello) (*AuthResult, error)

	// ResolveReconnectToken maps a previously issued reconnect token back
	// to the client identity it was minted for, or returns an error if
	// the token is unknown or expired.
	ResolveReconnectToken(ctx context.Context, token *protocol.ReconnectToken) (*AuthResult, error)

	// IssueReconnectToken mints a fresh reconnect token for an established
	// session, to be delivered on the next Ping.
	IssueReconnectToken(ctx context.Context, result *AuthResult) (*protocol.ReconnectToken, error)
}

// AnonymousAuthenticator accepts every hello: keyed clients get a stable
// identity derived from their secret key, anonymous clients keep the
// random identity generated into their hello. It is the default when no
// external auth store is configured.
type AnonymousAuthenticator struct {
	reconnectMu sync.RWMutex
	reconnect   map[string]*AuthResult
}

// NewAnonymousAuthenticator builds the default allow-all authenticator.
func NewAnonymousAuthenticator() *AnonymousAuthenticator {
	return &AnonymousAuthenticator{reconnect: make(map[string]*AuthResult)}
}

// Authenticate implements Authenticator.
func (a *AnonymousAuthenticator) Authenticate(_ context.Context, hello *protocol.ClientHello) (*AuthResult, error) {
	if hello.ClientType == protocol.ClientTypeAuth {
		if hello.SecretKey == nil || hello.SecretKey.Key == "" {
			return nil, fmt.Errorf("auth client hello missing secret key")
		}
		return &AuthResult{ClientID: hello.SecretKey.ClientIDFromKey(), IsAnonymous: false}, nil
	}
	return &AuthResult{ClientID: hello.ID, IsAnonymous: true}, nil
}

// ResolveReconnectToken implements Authenticator.
func (a *AnonymousAuthenticator) ResolveReconnectToken(_ context.Context, token *protocol.ReconnectToken) (*AuthResult, error) {
	a.reconnectMu.RLock()
	defer a.reconnectMu.RUnlock()

	result, ok := a.reconnect[token.Token]
	if !ok {
		return nil, fmt.Errorf("unknown reconnect token")
	}
	return result, nil
}

// IssueReconnectToken implements Authenticator.
func (a *AnonymousAuthenticator) IssueReconnectToken(_ context.Context, result *AuthResult) (*protocol.ReconnectToken, error) {
	token, err := protocol.GenerateReconnectToken()
	if err != nil {
		return nil, err
	}

	a.reconnectMu.Lock()
	a.reconnect[token.Token] = result
	a.reconnectMu.Unlock()

	return token, nil
}

// ForgetReconnectToken drops a token once it has been consumed or replaced.
func (a *AnonymousAuthenticator) ForgetReconnectToken(token *protocol.ReconnectToken) {
	a.reconnectMu.Lock()
	defer a.reconnectMu.Unlock()
	delete(a.reconnect, token.Token)
}

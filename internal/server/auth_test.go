package server

import (
	"context"
	"testing"

	"github.com/sombochea/tungo/pkg/protocol"
)

func TestAnonymousAuthenticateAnonymousHello(t *testing.T) {
	auth := NewAnonymousAuthenticator()

	hello, err := protocol.NewClientHello(nil, nil)
	if err != nil {
		t.Fatalf("NewClientHello: %v", err)
	}

	result, err := auth.Authenticate(context.Background(), hello)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	if !result.IsAnonymous {
		t.Fatal("expected anonymous result for a keyless hello")
	}
	if result.ClientID != hello.ID {
		t.Fatalf("expected client id to match hello id, got %v want %v", result.ClientID, hello.ID)
	}
}

func TestAnonymousAuthenticateKeyedHelloIsStable(t *testing.T) {
	auth := NewAnonymousAuthenticator()
	secret := &protocol.SecretKey{Key: "abcdefghij0123456789ZZ"}

	hello1, err := protocol.NewClientHello(nil, secret)
	if err != nil {
		t.Fatalf("NewClientHello: %v", err)
	}
	hello2, err := protocol.NewClientHello(nil, secret)
	if err != nil {
		t.Fatalf("NewClientHello: %v", err)
	}

	result1, err := auth.Authenticate(context.Background(), hello1)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}
	result2, err := auth.Authenticate(context.Background(), hello2)
	if err != nil {
		t.Fatalf("Authenticate: %v", err)
	}

	if result1.IsAnonymous || result2.IsAnonymous {
		t.Fatal("expected keyed hellos to resolve to non-anonymous identities")
	}
	if result1.ClientID != result2.ClientID {
		t.Fatalf("expected the same secret key to resolve to a stable client id, got %v and %v", result1.ClientID, result2.ClientID)
	}
}

func TestAnonymousAuthenticateRejectsMissingSecretKey(t *testing.T) {
	auth := NewAnonymousAuthenticator()
	hello := &protocol.ClientHello{ID: "x", ClientType: protocol.ClientTypeAuth}

	if _, err := auth.Authenticate(context.Background(), hello); err == nil {
		t.Fatal("expected error for auth-type hello with no secret key")
	}
}

func TestReconnectTokenRoundTrip(t *testing.T) {
	auth := NewAnonymousAuthenticator()
	original := &AuthResult{ClientID: "client-1", IsAnonymous: true}

	token, err := auth.IssueReconnectToken(context.Background(), original)
	if err != nil {
		t.Fatalf("IssueReconnectToken: %v", err)
	}

	resolved, err := auth.ResolveReconnectToken(context.Background(), token)
	if err != nil {
		t.Fatalf("ResolveReconnectToken: %v", err)
	}
	if resolved.ClientID != original.ClientID {
		t.Fatalf("expected resolved client id %v, got %v", original.ClientID, resolved.ClientID)
	}
}

func TestResolveUnknownReconnectTokenFails(t *testing.T) {
	auth := NewAnonymousAuthenticator()
	if _, err := auth.ResolveReconnectToken(context.Background(), &protocol.ReconnectToken{Token: "nonexistent"}); err == nil {
		t.Fatal("expected error resolving an unknown reconnect token")
	}
}

func TestForgetReconnectToken(t *testing.T) {
	auth := NewAnonymousAuthenticator()
	original := &AuthResult{ClientID: "client-1"}

	token, err := auth.IssueReconnectToken(context.Background(), original)
	if err != nil {
		t.Fatalf("IssueReconnectToken: %v", err)
	}

	auth.ForgetReconnectToken(token)

	if _, err := auth.ResolveReconnectToken(context.Background(), token); err == nil {
		t.Fatal("expected forgotten token to no longer resolve")
	}
}

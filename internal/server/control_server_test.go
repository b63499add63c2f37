package server

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sombochea/tungo/pkg/config"
	"github.com/sombochea/tungo/pkg/protocol"
)

func newTestControlServer(t *testing.T, blocked []string) (*ControlServer, *ConnectionManager) {
	t.Helper()
	cfg := &config.ServerConfig{
		PortalHost:        "tungo.example.com",
		BlockedSubDomains: blocked,
		AllowAnonymous:    true,
	}
	connMgr := newTestConnectionManager(t, 10)
	cs := NewControlServer(cfg, connMgr, NewAnonymousAuthenticator(), zerolog.Nop(), nil)
	return cs, connMgr
}

func TestResolveSubDomainHonorsRequest(t *testing.T) {
	cs, _ := newTestControlServer(t, nil)
	requested := "my-app"
	hello := &protocol.ClientHello{SubDomain: &requested}

	sub, err := cs.resolveSubDomain(hello, "client-1")
	if err != nil {
		t.Fatalf("resolveSubDomain: %v", err)
	}
	if sub != "my-app" {
		t.Fatalf("expected requested subdomain honored, got %q", sub)
	}
}

func TestResolveSubDomainRejectsBlocked(t *testing.T) {
	cs, _ := newTestControlServer(t, []string{"admin"})
	requested := "admin"
	hello := &protocol.ClientHello{SubDomain: &requested}

	if _, err := cs.resolveSubDomain(hello, "client-1"); err == nil {
		t.Fatal("expected blocked subdomain to be rejected")
	}
}

func TestResolveSubDomainRejectsInvalid(t *testing.T) {
	cs, _ := newTestControlServer(t, nil)
	requested := "Not Valid!"
	hello := &protocol.ClientHello{SubDomain: &requested}

	if _, err := cs.resolveSubDomain(hello, "client-1"); err == nil {
		t.Fatal("expected invalid subdomain to be rejected")
	}
}

func TestResolveSubDomainGeneratesRandomWhenEmpty(t *testing.T) {
	cs, _ := newTestControlServer(t, nil)
	hello := &protocol.ClientHello{}

	sub, err := cs.resolveSubDomain(hello, "client-1")
	if err != nil {
		t.Fatalf("resolveSubDomain: %v", err)
	}
	if err := protocol.ValidateSubDomain(sub); err != nil {
		t.Fatalf("expected a valid generated subdomain, got %q: %v", sub, err)
	}
}

func TestResolveSubDomainNeverGeneratesBlocked(t *testing.T) {
	cs, _ := newTestControlServer(t, nil)
	hello := &protocol.ClientHello{}

	for i := 0; i < 50; i++ {
		sub, err := cs.resolveSubDomain(hello, "client-1")
		if err != nil {
			t.Fatalf("resolveSubDomain: %v", err)
		}
		if cs.isBlockedSubDomain(sub) {
			t.Fatalf("generated subdomain %q is on the blocklist", sub)
		}
	}
}

func TestAuthenticateRejectsSubDomainInUse(t *testing.T) {
	cs, connMgr := newTestControlServer(t, nil)

	if _, err := connMgr.AddClient(ClientRegistration{ClientID: "existing", Host: "taken.tungo.example.com"}); err != nil {
		t.Fatalf("AddClient: %v", err)
	}

	requested := "taken"
	hello := &protocol.ClientHello{ID: "new-client", SubDomain: &requested, ClientType: protocol.ClientTypeAnonymous}

	_, _, _, _, err := cs.authenticate(context.Background(), hello)
	if err == nil {
		t.Fatal("expected authenticate to reject a subdomain already claimed by a different client")
	}
}

func TestAuthenticateReconnectReusesSubDomainAndHost(t *testing.T) {
	cs, _ := newTestControlServer(t, nil)

	requested := "sticky"
	fresh := &protocol.ClientHello{ID: "client-1", SubDomain: &requested, ClientType: protocol.ClientTypeAnonymous}

	serverHello, clientID, subDomain, _, err := cs.authenticate(context.Background(), fresh)
	if err != nil {
		t.Fatalf("authenticate (fresh): %v", err)
	}
	if subDomain != "sticky" {
		t.Fatalf("expected requested subdomain, got %q", subDomain)
	}

	token, err := cs.auth.IssueReconnectToken(context.Background(), &AuthResult{
		ClientID:    clientID,
		IsAnonymous: true,
		SubDomain:   subDomain,
		Host:        serverHello.Hostname,
	})
	if err != nil {
		t.Fatalf("IssueReconnectToken: %v", err)
	}

	reconnectHello, err := protocol.NewReconnectHello(token)
	if err != nil {
		t.Fatalf("NewReconnectHello: %v", err)
	}

	_, reconnectedID, reconnectedSubDomain, _, err := cs.authenticate(context.Background(), reconnectHello)
	if err != nil {
		t.Fatalf("authenticate (reconnect): %v", err)
	}
	if reconnectedID != clientID {
		t.Fatalf("expected reconnect to resolve the same client id, got %v want %v", reconnectedID, clientID)
	}
	if reconnectedSubDomain != subDomain {
		t.Fatalf("expected reconnect to reuse subdomain %q, got %q", subDomain, reconnectedSubDomain)
	}
}

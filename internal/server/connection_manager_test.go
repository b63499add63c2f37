package server

import (
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sombochea/tungo/internal/registry"
	"github.com/sombochea/tungo/pkg/protocol"
)

func newTestConnectionManager(t *testing.T, maxConn int) *ConnectionManager {
	t.Helper()
	reg, err := registry.NewInMemoryRegistry("test-server", slog.Default())
	if err != nil {
		t.Fatalf("NewInMemoryRegistry: %v", err)
	}
	return NewConnectionManager(reg, zerolog.Nop(), maxConn)
}

func mustStreamID(t *testing.T) protocol.StreamID {
	t.Helper()
	sid, err := protocol.GenerateStreamID()
	if err != nil {
		t.Fatalf("GenerateStreamID: %v", err)
	}
	return sid
}

func TestAddClientAndGetByHost(t *testing.T) {
	cm := newTestConnectionManager(t, 10)

	client, err := cm.AddClient(ClientRegistration{
		ClientID:  "client-1",
		SubDomain: "foo",
		Host:      "foo.example.com",
	})
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if client.ID != "client-1" {
		t.Fatalf("unexpected client id: %v", client.ID)
	}

	got, exists := cm.GetClientByHost("foo.example.com")
	if !exists {
		t.Fatal("expected client to be found by host")
	}
	if got.ID != client.ID {
		t.Fatalf("got wrong client: %v", got.ID)
	}

	if cm.IsHostAvailable("foo.example.com") {
		t.Fatal("expected host to be claimed")
	}
	if !cm.IsHostAvailable("bar.example.com") {
		t.Fatal("expected unclaimed host to be available")
	}
}

func TestAddClientRejectsDuplicateHost(t *testing.T) {
	cm := newTestConnectionManager(t, 10)

	if _, err := cm.AddClient(ClientRegistration{ClientID: "a", Host: "shared.example.com"}); err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if _, err := cm.AddClient(ClientRegistration{ClientID: "b", Host: "shared.example.com"}); err == nil {
		t.Fatal("expected error registering a second client under the same host")
	}
}

func TestAddClientRejectsOverCapacity(t *testing.T) {
	cm := newTestConnectionManager(t, 1)

	if _, err := cm.AddClient(ClientRegistration{ClientID: "a", Host: "a.example.com"}); err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if _, err := cm.AddClient(ClientRegistration{ClientID: "b", Host: "b.example.com"}); err == nil {
		t.Fatal("expected max connections error")
	}
}

func TestRemoveClientIsTombstoneSafe(t *testing.T) {
	cm := newTestConnectionManager(t, 10)

	first, err := cm.AddClient(ClientRegistration{ClientID: "client-1", Host: "foo.example.com"})
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}

	// Simulate a reconnect under the same host before the stale
	// disconnect for the first session is processed.
	if _, err := cm.AddClient(ClientRegistration{ClientID: "client-1", Host: "foo.example.com"}); err != nil {
		t.Fatalf("AddClient reconnect: %v", err)
	}

	// Removing the (now stale) first registration must not evict the
	// host claim the reconnect just re-established.
	cm.RemoveClient(first.ID)

	if _, exists := cm.GetClientByHost("foo.example.com"); !exists {
		t.Fatal("expected host to remain claimed after stale removal")
	}
}

func TestActiveConnectionsAndListHosts(t *testing.T) {
	cm := newTestConnectionManager(t, 10)

	if cm.ActiveConnections() != 0 {
		t.Fatalf("expected 0 active connections, got %d", cm.ActiveConnections())
	}

	if _, err := cm.AddClient(ClientRegistration{ClientID: "a", Host: "a.example.com"}); err != nil {
		t.Fatalf("AddClient: %v", err)
	}
	if _, err := cm.AddClient(ClientRegistration{ClientID: "b", Host: "b.example.com"}); err != nil {
		t.Fatalf("AddClient: %v", err)
	}

	if cm.ActiveConnections() != 2 {
		t.Fatalf("expected 2 active connections, got %d", cm.ActiveConnections())
	}

	hosts := cm.ListHosts()
	if len(hosts) != 2 {
		t.Fatalf("expected 2 hosts, got %v", hosts)
	}
}

func TestStreamLifecycle(t *testing.T) {
	cm := newTestConnectionManager(t, 10)
	client, err := cm.AddClient(ClientRegistration{ClientID: "a", Host: "a.example.com"})
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}

	sid := mustStreamID(t)
	stream := client.AddStream(sid, "1.2.3.4:5555")
	if stream.ID != sid {
		t.Fatalf("unexpected stream id")
	}

	got, exists := client.GetStream(sid)
	if !exists || got != stream {
		t.Fatal("expected to retrieve the stream just added")
	}
	if client.ActiveStreams() != 1 {
		t.Fatalf("expected 1 active stream, got %d", client.ActiveStreams())
	}

	client.RemoveStream(sid)
	if _, exists := client.GetStream(sid); exists {
		t.Fatal("expected stream to be gone after removal")
	}
	if client.ActiveStreams() != 0 {
		t.Fatalf("expected 0 active streams, got %d", client.ActiveStreams())
	}

	select {
	case <-stream.Done():
	default:
		t.Fatal("expected stream Done channel to be closed after removal")
	}
}

func TestStreamOfferBackpressure(t *testing.T) {
	stream := NewActiveStream(mustStreamID(t), "client-1", "1.2.3.4:5555")

	filled := 0
	for stream.Offer(StreamMessage{Type: StreamData, Data: []byte("x")}) {
		filled++
		if filled > 1000 {
			t.Fatal("Offer never reported a full queue")
		}
	}
	if filled == 0 {
		t.Fatal("expected at least one successful offer before the queue filled")
	}
}

func TestSendPacketAfterDoneFails(t *testing.T) {
	cm := newTestConnectionManager(t, 10)
	client, err := cm.AddClient(ClientRegistration{ClientID: "a", Host: "a.example.com"})
	if err != nil {
		t.Fatalf("AddClient: %v", err)
	}

	cm.RemoveClient(client.ID)

	if err := client.SendPacket(protocol.NewPingPacket(nil)); err == nil {
		t.Fatal("expected SendPacket to fail after client removal")
	}
}

package client

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sombochea/tungo/pkg/config"
	"github.com/sombochea/tungo/pkg/protocol"
)

func newTestClient(t *testing.T, cfg *config.ClientConfig) *TunnelClient {
	t.Helper()
	if cfg == nil {
		cfg = &config.ClientConfig{ServerHost: "localhost", ControlPort: 5000, LocalHost: "localhost", LocalPort: 8000}
	}
	return NewTunnelClient(cfg, zerolog.Nop())
}

func TestPickReconnectTokenPrefersLearnedOverConfig(t *testing.T) {
	tc := newTestClient(t, &config.ClientConfig{
		ServerHost: "localhost", ControlPort: 5000, LocalHost: "localhost", LocalPort: 8000,
		ReconnectToken: "static-token",
	})

	if got := tc.pickReconnectToken(); got == nil || got.Token != "static-token" {
		t.Fatalf("expected static config token before any learned token, got %v", got)
	}

	tc.setReconnectToken(&protocol.ReconnectToken{Token: "learned-token"})

	got := tc.pickReconnectToken()
	if got == nil || got.Token != "learned-token" {
		t.Fatalf("expected learned token to take priority, got %v", got)
	}
}

func TestPickReconnectTokenNilWhenNeitherSet(t *testing.T) {
	tc := newTestClient(t, nil)
	if got := tc.pickReconnectToken(); got != nil {
		t.Fatalf("expected nil token, got %v", got)
	}
}

func TestMarkAliveAndSilentFor(t *testing.T) {
	tc := newTestClient(t, nil)

	if tc.SilentFor() != 0 {
		t.Fatalf("expected zero SilentFor before any ping observed, got %v", tc.SilentFor())
	}

	tc.markAlive()
	time.Sleep(5 * time.Millisecond)

	if tc.SilentFor() <= 0 {
		t.Fatal("expected SilentFor to report elapsed time since the last ping")
	}
	if tc.SilentFor() > time.Second {
		t.Fatalf("expected a small SilentFor shortly after markAlive, got %v", tc.SilentFor())
	}
}

func TestStreamAddGetCloseRemove(t *testing.T) {
	tc := newTestClient(t, nil)
	sid, err := protocol.GenerateStreamID()
	if err != nil {
		t.Fatalf("GenerateStreamID: %v", err)
	}

	stream := &LocalStream{ID: sid, DataChan: make(chan []byte, 1), Done: make(chan struct{}), LocalConn: &nopConn{}}
	tc.addStream(stream)

	got, exists := tc.getStream(sid)
	if !exists || got != stream {
		t.Fatal("expected to retrieve the stream just added")
	}
	if tc.GetActiveStreams() != 1 {
		t.Fatalf("expected 1 active stream, got %d", tc.GetActiveStreams())
	}

	tc.closeStream(sid)
	if _, exists := tc.getStream(sid); exists {
		t.Fatal("expected stream to be gone after closeStream")
	}
	select {
	case <-stream.Done:
	default:
		t.Fatal("expected stream Done channel closed")
	}
}

func TestRotateToNextServerWraps(t *testing.T) {
	tc := newTestClient(t, &config.ClientConfig{
		ServerCluster: []config.ServerNode{
			{Host: "a", Port: 1},
			{Host: "b", Port: 2},
		},
		LocalHost: "localhost", LocalPort: 8000,
	})

	if tc.GetServerCount() != 2 {
		t.Fatalf("expected 2 servers, got %d", tc.GetServerCount())
	}
	if tc.GetCurrentServer().Host != "a" {
		t.Fatalf("expected to start on server a, got %v", tc.GetCurrentServer())
	}

	tc.RotateToNextServer()
	if tc.GetCurrentServer().Host != "b" {
		t.Fatalf("expected to rotate to server b, got %v", tc.GetCurrentServer())
	}

	tc.RotateToNextServer()
	if tc.GetCurrentServer().Host != "a" {
		t.Fatalf("expected rotation to wrap back to server a, got %v", tc.GetCurrentServer())
	}
}

func TestParseRequestLineExtractsMethodPathAndForwardedFor(t *testing.T) {
	stream := &LocalStream{}
	data := []byte("GET /widgets HTTP/1.1\r\nHost: example.com\r\nX-Forwarded-For: 9.9.9.9\r\n\r\n")

	parseRequestLine(stream, data)

	if stream.Method != "GET" {
		t.Fatalf("unexpected method: %q", stream.Method)
	}
	if stream.Path != "/widgets" {
		t.Fatalf("unexpected path: %q", stream.Path)
	}
	if stream.SourceIP != "9.9.9.9" {
		t.Fatalf("unexpected source ip: %q", stream.SourceIP)
	}
}

func TestParseStatusLineExtractsCode(t *testing.T) {
	stream := &LocalStream{}
	data := []byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")

	parseStatusLine(stream, data)

	if stream.StatusCode != 404 {
		t.Fatalf("unexpected status code: %d", stream.StatusCode)
	}
}

func TestParseStatusLineIgnoresNonHTTP(t *testing.T) {
	stream := &LocalStream{}
	parseStatusLine(stream, []byte("not an http response at all"))

	if stream.StatusCode != 0 {
		t.Fatalf("expected status code to stay unset, got %d", stream.StatusCode)
	}
}

func TestSplitOnSpace(t *testing.T) {
	got := splitOnSpace("GET /path HTTP/1.1")
	want := []string{"GET", "/path", "HTTP/1.1"}
	if len(got) != len(want) {
		t.Fatalf("unexpected split: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected split at %d: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestTrimCR(t *testing.T) {
	if trimCR("abc\r") != "abc" {
		t.Fatal("expected trailing CR to be trimmed")
	}
	if trimCR("abc") != "abc" {
		t.Fatal("expected string without CR to pass through unchanged")
	}
}

// nopConn is a minimal net.Conn stub for tests that only need LocalStream's
// Close() to have something to call.
type nopConn struct{}

func (nopConn) Read(b []byte) (int, error)         { return 0, nil }
func (nopConn) Write(b []byte) (int, error)        { return len(b), nil }
func (nopConn) Close() error                       { return nil }
func (nopConn) LocalAddr() net.Addr                { return nil }
func (nopConn) RemoteAddr() net.Addr               { return nil }
func (nopConn) SetDeadline(t time.Time) error      { return nil }
func (nopConn) SetReadDeadline(t time.Time) error  { return nil }
func (nopConn) SetWriteDeadline(t time.Time) error { return nil }

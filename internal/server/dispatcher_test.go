package server

import (
	"bufio"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/sombochea/tungo/pkg/config"
)

func newTestDispatcher(t *testing.T, allowedHosts []string, portalHost string) *RemoteDispatcher {
	t.Helper()
	cfg := &config.ServerConfig{
		PortalHost:   portalHost,
		AllowedHosts: allowedHosts,
	}
	return NewRemoteDispatcher(cfg, nil, nil, nil, zerolog.Nop())
}

func TestSplitAllowedHostDefaultsToPortalHost(t *testing.T) {
	d := newTestDispatcher(t, nil, "tungo.example.com")

	sub, ok := d.splitAllowedHost("foo.tungo.example.com")
	if !ok || sub != "foo" {
		t.Fatalf("expected subdomain %q ok=true, got %q ok=%v", "foo", sub, ok)
	}

	sub, ok = d.splitAllowedHost("tungo.example.com")
	if !ok || sub != "" {
		t.Fatalf("expected apex hit with empty subdomain, got %q ok=%v", sub, ok)
	}

	_, ok = d.splitAllowedHost("not-allowed.com")
	if ok {
		t.Fatal("expected host outside the allowed list to be rejected")
	}
}

func TestSplitAllowedHostStripsPort(t *testing.T) {
	d := newTestDispatcher(t, nil, "tungo.example.com")

	sub, ok := d.splitAllowedHost("foo.tungo.example.com:8080")
	if !ok || sub != "foo" {
		t.Fatalf("expected subdomain %q ok=true, got %q ok=%v", "foo", sub, ok)
	}
}

func TestSplitAllowedHostUsesAllowedHostsList(t *testing.T) {
	d := newTestDispatcher(t, []string{"custom.dev"}, "tungo.example.com")

	if _, ok := d.splitAllowedHost("foo.tungo.example.com"); ok {
		t.Fatal("expected portal host to no longer be implicitly allowed once allowed_hosts is set")
	}

	sub, ok := d.splitAllowedHost("foo.custom.dev")
	if !ok || sub != "foo" {
		t.Fatalf("expected subdomain %q ok=true, got %q ok=%v", "foo", sub, ok)
	}
}

func TestPeekHTTPRequestHost(t *testing.T) {
	raw := "GET /widgets?x=1 HTTP/1.1\r\nHost: foo.example.com\r\nX-Forwarded-For: 9.9.9.9\r\n\r\n"
	br := bufio.NewReaderSize(strings.NewReader(raw), maxHeaderPeek)

	host, target, headers, ok := peekHTTPRequestHost(br)
	if !ok {
		t.Fatal("expected peek to succeed")
	}
	if host != "foo.example.com" {
		t.Fatalf("unexpected host: %q", host)
	}
	if target != "/widgets?x=1" {
		t.Fatalf("unexpected target: %q", target)
	}
	if headers.Get("X-Forwarded-For") != "9.9.9.9" {
		t.Fatalf("unexpected forwarded-for: %q", headers.Get("X-Forwarded-For"))
	}

	// The peek must not have consumed the reader: the same bytes should
	// still be readable by whatever pumps the connection afterward.
	rest := make([]byte, len(raw))
	n, _ := br.Read(rest)
	if string(rest[:n]) != raw[:n] {
		t.Fatal("expected peek to leave the reader's bytes untouched")
	}
}

func TestPeekHTTPRequestHostMissingHostFails(t *testing.T) {
	raw := "GET / HTTP/1.1\r\n\r\n"
	br := bufio.NewReaderSize(strings.NewReader(raw), maxHeaderPeek)

	if _, _, _, ok := peekHTTPRequestHost(br); ok {
		t.Fatal("expected peek to fail without a Host header")
	}
}

func TestPeekHTTPRequestHostEmptyConnFails(t *testing.T) {
	br := bufio.NewReaderSize(strings.NewReader(""), maxHeaderPeek)
	if _, _, _, ok := peekHTTPRequestHost(br); ok {
		t.Fatal("expected peek to fail on an empty read")
	}
}

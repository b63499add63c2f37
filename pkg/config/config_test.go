package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestGetServerListFallbackHonorsUseTLS(t *testing.T) {
	cfg := &ClientConfig{ServerHost: "example.com", ControlPort: 5555, UseTLS: true}

	servers := cfg.GetServerList()
	if len(servers) != 1 {
		t.Fatalf("expected a single fallback server, got %d", len(servers))
	}
	if !servers[0].Secure {
		t.Fatal("expected UseTLS to mark the fallback server as Secure")
	}
}

func TestGetServerListFallbackDefaultsToPlaintext(t *testing.T) {
	cfg := &ClientConfig{ServerHost: "example.com", ControlPort: 5555}

	servers := cfg.GetServerList()
	if servers[0].Secure {
		t.Fatal("expected fallback server to be plaintext when UseTLS is unset")
	}
}

func TestGetServerListPrefersServerURL(t *testing.T) {
	cfg := &ClientConfig{ServerURL: "wss://tungo.example.com:9999", ServerHost: "ignored", UseTLS: false}

	servers := cfg.GetServerList()
	if len(servers) != 1 {
		t.Fatalf("expected a single server parsed from ServerURL, got %d", len(servers))
	}
	if servers[0].Host != "tungo.example.com" || servers[0].Port != 9999 || !servers[0].Secure {
		t.Fatalf("unexpected server parsed from ServerURL: %+v", servers[0])
	}
}

func TestSaveSecretKeyWritesConfigFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	path, err := SaveSecretKey("my-secret-key")
	if err != nil {
		t.Fatalf("SaveSecretKey: %v", err)
	}

	want := filepath.Join(home, ".tungo", "client.yaml")
	if path != want {
		t.Fatalf("expected config written to %q, got %q", want, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "my-secret-key") {
		t.Fatalf("expected saved config to contain the secret key, got %q", string(data))
	}
}

func TestSaveSecretKeyPreservesExistingSettings(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	dir := filepath.Join(home, ".tungo")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	existing := "subdomain: my-app\n"
	if err := os.WriteFile(filepath.Join(dir, "client.yaml"), []byte(existing), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := SaveSecretKey("fresh-key"); err != nil {
		t.Fatalf("SaveSecretKey: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "client.yaml"))
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !strings.Contains(string(data), "fresh-key") || !strings.Contains(string(data), "my-app") {
		t.Fatalf("expected saved config to keep existing keys alongside the new one, got %q", string(data))
	}
}

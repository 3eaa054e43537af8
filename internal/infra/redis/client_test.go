package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/muniportal/portal-auth/internal/infra/config"
)

func startClient(t *testing.T, cfg config.RedisSettings) (*Client, *miniredis.Miniredis) {
	t.Helper()

	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(server.Close)

	host, portStr, _ := strings.Cut(server.Addr(), ":")
	port, _ := strconv.Atoi(portStr)
	cfg.Host = host
	cfg.Port = port

	client, err := NewClient(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client, server
}

func TestClientKeyNamespacing(t *testing.T) {
	client, _ := startClient(t, config.RedisSettings{KeyPrefix: "portal"})

	if got := client.Key("mfa", "", "acc-1"); got != "portal:mfa:acc-1" {
		t.Fatalf("unexpected key %q", got)
	}
	if got := client.RevokedPrefix(); got != "portal:revoked_session" {
		t.Fatalf("unexpected revoked prefix %q", got)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
}

func TestClientExplicitRevokedPrefix(t *testing.T) {
	client, _ := startClient(t, config.RedisSettings{KeyPrefix: "portal", RevokedPrefix: "custom:revoked"})

	if got := client.RevokedPrefix(); got != "custom:revoked" {
		t.Fatalf("unexpected revoked prefix %q", got)
	}
}

func TestNewClientFailsWhenUnreachable(t *testing.T) {
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	host, portStr, _ := strings.Cut(server.Addr(), ":")
	port, _ := strconv.Atoi(portStr)
	server.Close()

	if _, err := NewClient(context.Background(), config.RedisSettings{Host: host, Port: port}, nil); err == nil {
		t.Fatalf("expected ping failure")
	}
}

package redis

import (
	"context"
	"strconv"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"go.uber.org/zap"

	"github.com/arklim/academy-sessions/internal/infra/config"
)

func TestNewClientPingsAndCloses(t *testing.T) {
	mr := miniredis.RunT(t)
	host, portStr, _ := strings.Cut(mr.Addr(), ":")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("parse miniredis port: %v", err)
	}

	client, err := NewClient(context.Background(), config.RedisSettings{Host: host, Port: port}, zap.NewNop())
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck returned error: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close returned error: %v", err)
	}
}

func TestOptionsEnableTLS(t *testing.T) {
	opts := Options(config.RedisSettings{Host: "cache", Port: 6380, TLSEnabled: true})
	if opts.Addr != "cache:6380" {
		t.Fatalf("unexpected addr %s", opts.Addr)
	}
	if opts.TLSConfig == nil {
		t.Fatalf("expected TLS config when enabled")
	}
}

package main

import (
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/healthtrack/trend-engine/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{Address: "127.0.0.1:0", GracefulTimeout: time.Second},
		Records: config.RecordsConfig{
			Driver: config.DriverHTTP,
			HTTP:   config.RecordsHTTPConfig{BaseURL: "http://127.0.0.1:1", Timeout: time.Second},
		},
		Compute:  config.ComputeConfig{Workers: 1, OffloadThreshold: 100, QueueSize: 4},
		Analysis: config.AnalysisConfig{MinRecords: 14},
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunReturnsCatalogError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.yaml")
	if err := os.WriteFile(path, []byte("direct: [\n"), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	cfg := testConfig()
	cfg.Metrics.CatalogPath = path

	err := run(discardLogger(), cfg)
	if err == nil || !strings.Contains(err.Error(), "load metric catalog") {
		t.Fatalf("expected catalog error, got %v", err)
	}
}

func TestRunReturnsRecordSourceError(t *testing.T) {
	cfg := testConfig()
	cfg.Records.Driver = "postgres"

	err := run(discardLogger(), cfg)
	if err == nil || !strings.Contains(err.Error(), "open record source") {
		t.Fatalf("expected record source error, got %v", err)
	}
}

func TestRunReturnsListenErrorAfterAcquiringResources(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer busy.Close()

	cfg := testConfig()
	cfg.Server.Address = busy.Addr().String()

	done := make(chan error, 1)
	go func() { done <- run(discardLogger(), cfg) }()
	select {
	case err := <-done:
		if err == nil || !strings.Contains(err.Error(), "create gRPC server") {
			t.Fatalf("expected listen error, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("run did not return after the listener failed")
	}
}

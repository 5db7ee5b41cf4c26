package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/v2rayroot/v2root-go/internal/engine"
)

func writeSettings(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "v2root.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("missing file must not be an error: %v", err)
	}
	if cfg.HTTPPort != engine.DefaultHTTPPort || cfg.SOCKSPort != engine.DefaultSOCKSPort {
		t.Fatalf("ports=%d/%d, want defaults %d/%d",
			cfg.HTTPPort, cfg.SOCKSPort, engine.DefaultHTTPPort, engine.DefaultSOCKSPort)
	}
	if cfg.Probe.Attempts != 1 || len(cfg.Probe.Endpoints) == 0 {
		t.Fatalf("probe defaults incomplete: %+v", cfg.Probe)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeSettings(t, `
http_port: 18080
socks_port: 11080
engine_binary: xray
log_level: debug
probe:
  tcp_timeout_ms: 1000
  ttfb_timeout_ms: 3000
  attempts: 3
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPPort != 18080 || cfg.SOCKSPort != 11080 {
		t.Fatalf("ports=%d/%d", cfg.HTTPPort, cfg.SOCKSPort)
	}
	if cfg.Engine != "xray" || cfg.LogLevel != "debug" {
		t.Fatalf("engine/level=%q/%q", cfg.Engine, cfg.LogLevel)
	}
	if cfg.Probe.Attempts != 3 || cfg.Probe.TCPTimeoutMs != 1000 {
		t.Fatalf("probe=%+v", cfg.Probe)
	}
	// Untouched keys keep their defaults.
	if len(cfg.Probe.Endpoints) == 0 {
		t.Fatalf("endpoints default lost on partial override")
	}
}

func TestLoad_UnknownKeyRejected(t *testing.T) {
	path := writeSettings(t, "http_prot: 1234\n")
	_, err := Load(path)
	var le *LoadError
	if !errors.As(err, &le) {
		t.Fatalf("expected *LoadError, got %T: %v", err, err)
	}
	if le.AppError.Code != "CONFIG_PARSE_ERROR" {
		t.Fatalf("code=%q, want=CONFIG_PARSE_ERROR", le.AppError.Code)
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"port zero", "http_port: 0\n"},
		{"port collision", "http_port: 1080\nsocks_port: 1080\n"},
		{"attempts too high", "probe:\n  attempts: 6\n"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := Load(writeSettings(t, c.content))
			var le *LoadError
			if !errors.As(err, &le) {
				t.Fatalf("expected *LoadError, got %T: %v", err, err)
			}
			if le.AppError.Code != "CONFIG_VALIDATE_ERROR" {
				t.Fatalf("code=%q, want=CONFIG_VALIDATE_ERROR", le.AppError.Code)
			}
		})
	}
}

func TestLoad_MultiDocumentRejected(t *testing.T) {
	path := writeSettings(t, "http_port: 1234\n---\nhttp_port: 5678\n")
	if _, err := Load(path); err == nil {
		t.Fatalf("multi-document settings should be rejected")
	}
}

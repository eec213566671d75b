package config_test

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/fsbridge/fsbridge/internal/config"
)

// writeTemp writes content to a temp file and returns its path.
func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "config-*.yaml")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("write temp file: %v", err)
	}
	f.Close()
	return f.Name()
}

const validYAML = `
paths:
  - "/var/log"
  - "/etc/hosts"
latency: 250ms
no_defer: true
journal_path: "/var/lib/fsbridge/cursors.db"
session: logs
log_level: debug
metrics_addr: "127.0.0.1:9300"
`

func TestLoadConfig_Valid(t *testing.T) {
	path := writeTemp(t, validYAML)
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Paths) != 2 || cfg.Paths[0] != "/var/log" {
		t.Errorf("Paths = %v", cfg.Paths)
	}
	if time.Duration(cfg.Latency) != 250*time.Millisecond {
		t.Errorf("Latency = %s, want 250ms", time.Duration(cfg.Latency))
	}
	if !cfg.NoDefer {
		t.Error("NoDefer = false, want true")
	}
	if cfg.JournalPath != "/var/lib/fsbridge/cursors.db" {
		t.Errorf("JournalPath = %q", cfg.JournalPath)
	}
	if cfg.Session != "logs" {
		t.Errorf("Session = %q, want logs", cfg.Session)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.MetricsAddr != "127.0.0.1:9300" {
		t.Errorf("MetricsAddr = %q", cfg.MetricsAddr)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	path := writeTemp(t, "paths:\n  - \"/tmp\"\n")
	cfg, err := config.LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if time.Duration(cfg.Latency) != 500*time.Millisecond {
		t.Errorf("default Latency = %s, want 500ms", time.Duration(cfg.Latency))
	}
	if cfg.Session != "default" {
		t.Errorf("default Session = %q, want default", cfg.Session)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.LogLevel)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := config.LoadConfig("/no/such/file.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeTemp(t, "paths: [unclosed")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestLoadConfig_NoPaths(t *testing.T) {
	path := writeTemp(t, "log_level: info\n")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error for empty paths")
	}
	if !strings.Contains(err.Error(), "paths") {
		t.Errorf("error %q does not mention paths", err)
	}
}

func TestLoadConfig_EmptyPathEntry(t *testing.T) {
	path := writeTemp(t, "paths:\n  - \"/tmp\"\n  - \"\"\n")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected validation error for empty path entry")
	}
}

func TestLoadConfig_BadDuration(t *testing.T) {
	path := writeTemp(t, "paths:\n  - \"/tmp\"\nlatency: fast\n")
	if _, err := config.LoadConfig(path); err == nil {
		t.Fatal("expected error for unparsable latency")
	}
}

func TestLoadConfig_BadLogLevel(t *testing.T) {
	path := writeTemp(t, "paths:\n  - \"/tmp\"\nlog_level: verbose\n")
	_, err := config.LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error for bad log level")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error %q does not mention log_level", err)
	}
}

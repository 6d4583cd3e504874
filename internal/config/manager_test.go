package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadJSON(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{
		"logging": {"level": "DEBUG", "console": true, "file": {"enabled": false}},
		"storage": {"driver": "sqlite", "path": "./test.db"},
		"scheduler": {"enabled": true, "auto_assign_schedule": "0 6 * * MON"}
	}`)

	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if cfg.Logging.Level != "DEBUG" {
		t.Fatalf("Logging.Level = %q", cfg.Logging.Level)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("Storage.Driver = %q", cfg.Storage.Driver)
	}
	if !cfg.Scheduler.Enabled || cfg.Scheduler.AutoAssignSchedule != "0 6 * * MON" {
		t.Fatalf("Scheduler = %+v", cfg.Scheduler)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get must return the committed config")
	}
}

func TestLoadYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.yaml", `
logging:
  level: INFO
  console: true
  file:
    enabled: true
    path: ./choreboard.log
storage:
  driver: file
  path: ./store
scheduler:
  enabled: false
notifier:
  enabled: true
  rate_per_sec: 5
  dedup_window: 10m
`)

	cfg, err := NewManager(path).Load()
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if !cfg.Logging.File.Enabled || cfg.Logging.File.Path != "./choreboard.log" {
		t.Fatalf("Logging.File = %+v", cfg.Logging.File)
	}
	if cfg.Notifier == nil || cfg.Notifier.RatePerSec != 5 {
		t.Fatalf("Notifier = %+v", cfg.Notifier)
	}
	if d, err := ParseDurationField("notifier.dedup_window", cfg.Notifier.DedupWindow); err != nil || d.Minutes() != 10 {
		t.Fatalf("dedup_window = %v, %v", d, err)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"loging": {"level": "INFO"}}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for unknown field")
	}
}

func TestLoadRejectsTrailingData(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "config.json", `{"logging": {"level": "INFO", "console": true, "file": {"enabled": false}}, "storage": {"driver": "", "path": ""}, "scheduler": {"enabled": false}}{}`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("expected error for trailing data")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", "90s"); err != nil || d.Seconds() != 90 {
		t.Fatalf("got %v, %v", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("negative duration must be rejected")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("junk duration must be rejected")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.Dispatch.BatchSize != 50 || cfg.Dispatch.Workers != 4 {
		t.Errorf("dispatch defaults = %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.DefaultInterval != time.Second {
		t.Errorf("default interval = %v", cfg.Dispatch.DefaultInterval)
	}
	if cfg.Dispatch.GraceWindow != 5*time.Minute {
		t.Errorf("grace window = %v", cfg.Dispatch.GraceWindow)
	}
	if cfg.Dispatch.Mode != "local" {
		t.Errorf("mode = %q", cfg.Dispatch.Mode)
	}
	if cfg.AMQP.Queue != "campaign_dispatch" {
		t.Errorf("amqp queue = %q", cfg.AMQP.Queue)
	}
}

func TestLoadAMQPQueueOverride(t *testing.T) {
	t.Setenv("AMQP_QUEUE", "dispatch_jobs")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.AMQP.Queue != "dispatch_jobs" {
		t.Errorf("amqp queue = %q, want env override", cfg.AMQP.Queue)
	}
}

func TestLoadYAMLFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `
server:
  addr: ":9090"
db:
  user: svc
  name: notifications
dispatch:
  batch_size: 25
  workers: 2
  default_interval: 250ms
  grace_window: 10m
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
	if cfg.DB.Name != "notifications" {
		t.Errorf("db name = %q", cfg.DB.Name)
	}
	if cfg.Dispatch.BatchSize != 25 || cfg.Dispatch.Workers != 2 {
		t.Errorf("dispatch = %+v", cfg.Dispatch)
	}
	if cfg.Dispatch.DefaultInterval != 250*time.Millisecond {
		t.Errorf("interval = %v", cfg.Dispatch.DefaultInterval)
	}
	if cfg.Dispatch.GraceWindow != 10*time.Minute {
		t.Errorf("grace window = %v", cfg.Dispatch.GraceWindow)
	}
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("db:\n  host: filehost\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DB_HOST", "envhost")
	t.Setenv("DISPATCH_MODE", "amqp")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DB.Host != "envhost" {
		t.Errorf("db host = %q, want env override", cfg.DB.Host)
	}
	if cfg.Dispatch.Mode != "amqp" {
		t.Errorf("mode = %q", cfg.Dispatch.Mode)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Errorf("addr = %q", cfg.Server.Addr)
	}
}

func TestLoadBadDuration(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("dispatch:\n  send_timeout: soon\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unparsable duration")
	}
}

func TestDSN(t *testing.T) {
	c := DBConfig{User: "u", Password: "p", Host: "h", Port: "5432", Name: "db", SSLMode: "disable"}
	want := "postgres://u:p@h:5432/db?sslmode=disable"
	if got := c.DSN(); got != want {
		t.Errorf("dsn = %q, want %q", got, want)
	}
}

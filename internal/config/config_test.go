package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Stream.Group != "availability" {
		t.Fatalf("default group: %q", cfg.Stream.Group)
	}
	if cfg.Reconcile.MaxAttempts != 3 || cfg.Reconcile.DefaultCapacity != 5 {
		t.Fatalf("reconcile defaults: %+v", cfg.Reconcile)
	}
	if cfg.Stream.PollTimeout.D() != 250*time.Millisecond {
		t.Fatalf("poll timeout: %v", cfg.Stream.PollTimeout)
	}
	if cfg.Retention.DedupWindow.D() != 7*24*time.Hour {
		t.Fatalf("dedup window: %v", cfg.Retention.DedupWindow)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "roomledger.json")
	data := []byte(`{"storage":{"backend":"sqlite","dataDir":"/tmp/rl"},"stream":{"partitions":8,"pollTimeout":"1s"},"reconcile":{"maxAttempts":5}}`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Storage.Backend != "sqlite" || cfg.Storage.SQLiteFile() != "/tmp/rl/ledger.db" {
		t.Fatalf("storage: %+v", cfg.Storage)
	}
	if cfg.Stream.Partitions != 8 || cfg.Stream.PollTimeout.D() != time.Second {
		t.Fatalf("stream: %+v", cfg.Stream)
	}
	if cfg.Reconcile.MaxAttempts != 5 {
		t.Fatalf("expected 5 attempts")
	}
	if cfg.Stream.Name != "booking-events" {
		t.Fatalf("defaults should survive partial files, got %q", cfg.Stream.Name)
	}
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "roomledger.yaml")
	data := []byte(`
stream:
  group: availability-eu
  claimIdle: 45s
reconcile:
  filter: roomId.startsWith("deluxe")
  backoff:
    type: fixed
    base: 10ms
retention:
  dedupWindow: 48h
log:
  level: debug
  format: json
`)
	if err := os.WriteFile(file, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Stream.Group != "availability-eu" || cfg.Stream.ClaimIdle.D() != 45*time.Second {
		t.Fatalf("stream: %+v", cfg.Stream)
	}
	if cfg.Reconcile.Backoff.Type != "fixed" || cfg.Reconcile.Backoff.Base.D() != 10*time.Millisecond {
		t.Fatalf("backoff: %+v", cfg.Reconcile.Backoff)
	}
	if !strings.Contains(cfg.Reconcile.Filter, "deluxe") {
		t.Fatalf("filter: %q", cfg.Reconcile.Filter)
	}
	if cfg.Retention.DedupWindow.D() != 48*time.Hour {
		t.Fatalf("retention: %+v", cfg.Retention)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Fatalf("log: %+v", cfg.Log)
	}
}

func TestLoadRejectsBadDuration(t *testing.T) {
	file := filepath.Join(t.TempDir(), "bad.yml")
	if err := os.WriteFile(file, []byte("stream:\n  pollTimeout: soon\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(file); err == nil {
		t.Fatalf("expected error")
	}
}

func TestFromEnv(t *testing.T) {
	cfg := Default()
	t.Setenv("ROOMLEDGER_STORAGE_DATA_DIR", "/srv/roomledger")
	t.Setenv("ROOMLEDGER_STREAM_PARTITIONS", "24")
	t.Setenv("ROOMLEDGER_STREAM_POLL_TIMEOUT", "2s")
	t.Setenv("ROOMLEDGER_DEAD_LETTER_MAX_DELIVERIES", "0")
	t.Setenv("ROOMLEDGER_LOG_LEVEL", "warn")
	t.Setenv("ROOMLEDGER_TELEMETRY_SERVICE_NAME", "rl-eu")
	if err := FromEnv(&cfg); err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.Storage.DataDir != "/srv/roomledger" {
		t.Fatalf("data dir: %q", cfg.Storage.DataDir)
	}
	if cfg.Stream.Partitions != 24 || cfg.Stream.PollTimeout.D() != 2*time.Second {
		t.Fatalf("stream: %+v", cfg.Stream)
	}
	if cfg.DeadLetter.MaxDeliveries != 0 {
		t.Fatalf("max deliveries: %d", cfg.DeadLetter.MaxDeliveries)
	}
	if cfg.Log.Level != "warn" || cfg.Telemetry.ServiceName != "rl-eu" {
		t.Fatalf("log/telemetry: %+v %+v", cfg.Log, cfg.Telemetry)
	}
	if cfg.Stream.Group != "availability" {
		t.Fatalf("unset variables must not clear fields")
	}
}

func TestLoadDotEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(file, []byte("ROOMLEDGER_HTTP_ADDR=:9999\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("ROOMLEDGER_HTTP_ADDR", "")
	os.Unsetenv("ROOMLEDGER_HTTP_ADDR")
	if err := LoadDotEnv(file, filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("dotenv: %v", err)
	}
	cfg := Default()
	if err := FromEnv(&cfg); err != nil {
		t.Fatalf("from env: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Fatalf("http addr: %q", cfg.HTTP.Addr)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Storage.Backend = "mysql"
	cfg.Stream.Backend = "amqp"
	cfg.Retention.LogRetention = Duration(time.Hour)
	err := cfg.Validate()
	if err == nil {
		t.Fatalf("expected errors")
	}
	for _, want := range []string{"storage.backend", "stream.amqp.url", "retention.logRetention"} {
		if !strings.Contains(err.Error(), want) {
			t.Fatalf("missing %s in %v", want, err)
		}
	}
}

func TestValidateClaimIdleExceedsReconcileTimeout(t *testing.T) {
	cfg := Default()
	if cfg.Stream.ClaimIdle <= cfg.Reconcile.Timeout {
		t.Fatalf("default claimIdle %v must exceed reconcile timeout %v", cfg.Stream.ClaimIdle, cfg.Reconcile.Timeout)
	}

	cfg.Stream.ClaimIdle = Duration(30 * time.Second)
	cfg.Reconcile.Timeout = Duration(30 * time.Second)
	err := cfg.Validate()
	if err == nil || !strings.Contains(err.Error(), "stream.claimIdle") {
		t.Fatalf("expected claimIdle error, got %v", err)
	}

	// no per-message deadline, nothing to compare against
	cfg.Reconcile.Timeout = 0
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// amqp redelivers on channel loss, not on idle time
	cfg.Reconcile.Timeout = Duration(30 * time.Second)
	cfg.Stream.Backend = "amqp"
	cfg.Stream.AMQP.URL = "amqp://localhost"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWatchReloads(t *testing.T) {
	file := filepath.Join(t.TempDir(), "roomledger.yaml")
	if err := os.WriteFile(file, []byte("log:\n  level: info\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	got := make(chan Config, 4)
	ready := make(chan struct{})
	go func() {
		close(ready)
		_ = Watch(ctx, file, func(c Config) { got <- c }, nil)
	}()
	<-ready
	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(file, []byte("log:\n  level: debug\n"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case c := <-got:
		if c.Log.Level != "debug" {
			t.Fatalf("level: %q", c.Log.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no reload observed")
	}
}

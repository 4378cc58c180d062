package config

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}

func TestReloadAppliesQueueSettings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	saveJSON(t, path, cfg)

	cfg2 := DefaultConfig()
	cfg2.Queue.MaxRetryAttempts = 8
	cfg2.Queue.RetrySchedule = "*/5 * * * *"
	saveJSON(t, path, cfg2)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	if !contains(result.Changed, "Queue") {
		t.Errorf("expected Queue in changed, got %v", result.Changed)
	}
	if !contains(result.Applied, "Queue") {
		t.Errorf("expected Queue in applied, got %v", result.Applied)
	}
	if cfg.Queue.MaxRetryAttempts != 8 || cfg.Queue.RetrySchedule != "*/5 * * * *" {
		t.Errorf("queue settings not applied: %+v", cfg.Queue)
	}
}

func TestReloadHotAppliesLogLevel(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg2 := DefaultConfig()
	cfg2.Server.LogLevel = "debug"
	saveJSON(t, path, cfg2)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !contains(result.Applied, "Server.LogLevel") {
		t.Errorf("expected Server.LogLevel applied, got %v", result.Applied)
	}
	if cfg.Server.LogLevel != "debug" {
		t.Errorf("expected log level debug, got %s", cfg.Server.LogLevel)
	}
}

func TestReloadRestartRequiredFieldsSkipped(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	cfg2 := DefaultConfig()
	cfg2.Server.DataDir = "/elsewhere"
	cfg2.API.Endpoint = "https://feedback.example.com"
	cfg2.Store.Backend = BackendSQLite
	cfg2.MQTT = &MQTTConfig{Broker: "tcp://localhost:1883"}
	saveJSON(t, path, cfg2)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	for _, field := range []string{"Server.DataDir", "API", "Store", "MQTT"} {
		if !contains(result.Changed, field) {
			t.Errorf("expected %s in changed, got %v", field, result.Changed)
		}
		if !contains(result.Skipped, field+" (requires restart)") {
			t.Errorf("expected %s skipped, got %v", field, result.Skipped)
		}
	}
	if len(result.Applied) != 0 {
		t.Errorf("expected nothing applied, got %v", result.Applied)
	}
	if cfg.Server.DataDir != "./data" || cfg.API.Endpoint != "" || cfg.Store.Backend != BackendFile || cfg.MQTT != nil {
		t.Errorf("restart-required fields must stay untouched: %+v", cfg)
	}
}

func TestReloadNoChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	saveJSON(t, path, cfg)

	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if len(result.Changed) != 0 {
		t.Errorf("expected no changes, got %v", result.Changed)
	}
}

func TestReloadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rapport.toml")

	src := `
[server]
logLevel = "warn"

[queue]
maxQueueSize = 50
`
	if err := os.WriteFile(path, []byte(src), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := DefaultConfig()
	result, err := cfg.Reload(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if !contains(result.Applied, "Queue") || !contains(result.Applied, "Server.LogLevel") {
		t.Errorf("expected Queue and Server.LogLevel applied, got %v", result.Applied)
	}
	if cfg.Queue.MaxQueueSize != 50 || cfg.Server.LogLevel != "warn" {
		t.Errorf("unexpected config after reload: %+v", cfg)
	}
}

func TestReloadBadFile(t *testing.T) {
	cfg := DefaultConfig()
	if _, err := cfg.Reload("/nonexistent/config.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestReloadInvalidConfigLeavesCurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	os.WriteFile(path, []byte(`{"server":{"logLevel":"loud"}}`), 0644)

	cfg := DefaultConfig()
	if _, err := cfg.Reload(path); err == nil {
		t.Fatal("expected validation error")
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("config changed by failed reload: %s", cfg.Server.LogLevel)
	}
}

func TestIsRestartRequired(t *testing.T) {
	if !IsRestartRequired("Store") {
		t.Error("Store should require restart")
	}
	if IsRestartRequired("Queue") {
		t.Error("Queue should not require restart")
	}
}

func TestHotReloadableFields(t *testing.T) {
	fields := HotReloadableFields()
	if !contains(fields, "Queue") || !contains(fields, "Server.LogLevel") {
		t.Errorf("unexpected hot-reloadable fields: %v", fields)
	}
}

func TestLogResult(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	r := &ReloadResult{}
	r.LogResult(logger)

	r2 := &ReloadResult{
		Changed: []string{"Queue", "Store"},
		Applied: []string{"Queue"},
		Skipped: []string{"Store (requires restart)"},
	}
	r2.LogResult(logger)
}

func TestWatcherDetectsChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")

	cfg := DefaultConfig()
	saveJSON(t, path, cfg)

	changed := make(chan struct{}, 1)
	w := NewWatcher(path, 50*time.Millisecond, nil, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	w.Start()
	defer w.Stop()

	time.Sleep(100 * time.Millisecond)
	cfg.Queue.MaxQueueSize = 10
	saveJSON(t, path, cfg)
	later := time.Now().Add(time.Second)
	os.Chtimes(path, later, later)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not detect change within timeout")
	}
}

func TestWatcherStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	saveJSON(t, path, DefaultConfig())

	NewWatcher(path, 0, nil, nil).Stop() // before Start

	w := NewWatcher(path, 50*time.Millisecond, nil, nil)
	w.Start()
	w.Stop()
	w.Stop() // double stop should not panic
}

func TestWatcherIgnoresTouchWithoutChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	saveJSON(t, path, DefaultConfig())

	var calls atomic.Int32
	w := NewWatcher(path, 20*time.Millisecond, nil, func() { calls.Add(1) })
	w.Start()
	defer w.Stop()

	later := time.Now().Add(time.Second)
	os.Chtimes(path, later, later)
	saveJSON(t, path, DefaultConfig())
	time.Sleep(150 * time.Millisecond)

	if n := calls.Load(); n != 0 {
		t.Errorf("expected no reload for identical contents, got %d", n)
	}
}

func TestWatcherSurvivesMissingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	saveJSON(t, path, DefaultConfig())

	changed := make(chan struct{}, 1)
	w := NewWatcher(path, 20*time.Millisecond, nil, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	w.Start()
	defer w.Stop()

	os.Remove(path)
	time.Sleep(80 * time.Millisecond)

	cfg := DefaultConfig()
	cfg.Queue.MaxQueueSize = 7
	saveJSON(t, path, cfg)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not pick up the recreated file")
	}
}

func TestWatcherNoCallbackAfterStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	saveJSON(t, path, DefaultConfig())

	entered := make(chan struct{})
	release := make(chan struct{})
	var running, after atomic.Bool
	var stopped atomic.Bool
	w := NewWatcher(path, 10*time.Millisecond, nil, func() {
		if stopped.Load() {
			after.Store(true)
		}
		if running.CompareAndSwap(false, true) {
			close(entered)
			<-release
		}
	})
	w.Start()

	cfg := DefaultConfig()
	cfg.Queue.MaxQueueSize = 3
	saveJSON(t, path, cfg)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not detect change")
	}

	stopDone := make(chan struct{})
	go func() {
		w.Stop()
		close(stopDone)
	}()
	select {
	case <-stopDone:
		t.Fatal("Stop returned while onChange was running")
	case <-time.After(50 * time.Millisecond):
	}
	close(release)
	<-stopDone
	stopped.Store(true)

	cfg.Queue.MaxQueueSize = 4
	saveJSON(t, path, cfg)
	time.Sleep(60 * time.Millisecond)
	if after.Load() {
		t.Error("onChange ran after Stop returned")
	}
}

func saveJSON(t *testing.T, path string, v any) {
	t.Helper()
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

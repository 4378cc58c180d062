package config

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.DataDir != "./data" {
		t.Errorf("expected dataDir ./data, got %s", cfg.Server.DataDir)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected logLevel info, got %s", cfg.Server.LogLevel)
	}
	if cfg.Queue.MaxQueueSize != 100 {
		t.Errorf("expected maxQueueSize 100, got %d", cfg.Queue.MaxQueueSize)
	}
	if cfg.Queue.MaxRetryAttempts != 5 {
		t.Errorf("expected maxRetryAttempts 5, got %d", cfg.Queue.MaxRetryAttempts)
	}
	if cfg.Queue.RetryInterval() != 3*time.Minute {
		t.Errorf("expected retry interval 3m, got %s", cfg.Queue.RetryInterval())
	}
	if cfg.API.Timeout() != 30*time.Second {
		t.Errorf("expected api timeout 30s, got %s", cfg.API.Timeout())
	}
	if cfg.API.MaxAttempts != 3 {
		t.Errorf("expected api maxAttempts 3, got %d", cfg.API.MaxAttempts)
	}
	if cfg.Store.Backend != BackendFile {
		t.Errorf("expected file backend, got %s", cfg.Store.Backend)
	}
	if cfg.MQTT != nil {
		t.Error("expected mqtt disabled by default")
	}
}

func TestLoadConfigFormats(t *testing.T) {
	tmpDir := t.TempDir()
	dataDir := filepath.Join(tmpDir, "data")

	files := map[string]string{
		"config.json": `{
			"server": {"dataDir": "` + dataDir + `", "logLevel": "debug"},
			"api": {"endpoint": "https://api.example.com", "appId": "app-1"},
			"queue": {"maxQueueSize": 20},
			"store": {"backend": "sqlite"}
		}`,
		"config.toml": `
[server]
dataDir = "` + dataDir + `"
logLevel = "debug"

[api]
endpoint = "https://api.example.com"
appId = "app-1"

[queue]
maxQueueSize = 20

[store]
backend = "sqlite"
`,
		"config.yaml": `
server:
  dataDir: ` + dataDir + `
  logLevel: debug
api:
  endpoint: https://api.example.com
  appId: app-1
queue:
  maxQueueSize: 20
store:
  backend: sqlite
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(tmpDir, name)
			if err := os.WriteFile(path, []byte(content), 0640); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Server.LogLevel != "debug" {
				t.Errorf("expected debug, got %s", cfg.Server.LogLevel)
			}
			if cfg.API.AppID != "app-1" || cfg.API.Endpoint != "https://api.example.com" {
				t.Errorf("unexpected api section: %+v", cfg.API)
			}
			if cfg.Queue.MaxQueueSize != 20 {
				t.Errorf("expected maxQueueSize 20, got %d", cfg.Queue.MaxQueueSize)
			}
			// Unset values keep their defaults.
			if cfg.Queue.MaxRetryAttempts != 5 {
				t.Errorf("expected default maxRetryAttempts, got %d", cfg.Queue.MaxRetryAttempts)
			}
			if cfg.StorePath() != filepath.Join(dataDir, "rapport.db") {
				t.Errorf("unexpected store path %s", cfg.StorePath())
			}
			if _, err := os.Stat(dataDir); err != nil {
				t.Errorf("expected data dir created: %v", err)
			}
		})
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nonexistent.json")); err == nil {
		t.Error("expected error when loading nonexistent file, got nil")
	}
}

func TestLoadConfigInvalidJSON(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "invalid.json")
	if err := os.WriteFile(configPath, []byte("{ invalid json }"), 0640); err != nil {
		t.Fatalf("failed to write invalid JSON: %v", err)
	}

	if _, err := Load(configPath); err == nil {
		t.Error("expected error when loading invalid JSON, got nil")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "bad log level", mutate: func(c *Config) { c.Server.LogLevel = "loud" }, wantErr: true},
		{name: "bad endpoint", mutate: func(c *Config) { c.API.Endpoint = "ftp://x" }, wantErr: true},
		{name: "unknown backend", mutate: func(c *Config) { c.Store.Backend = "s3" }, wantErr: true},
		{name: "redis without url", mutate: func(c *Config) { c.Store.Backend = BackendRedis }, wantErr: true},
		{name: "redis with url", mutate: func(c *Config) {
			c.Store.Backend = BackendRedis
			c.Store.RedisURL = "redis://localhost:6379/0"
		}},
		{name: "mqtt without broker", mutate: func(c *Config) { c.MQTT = &MQTTConfig{} }, wantErr: true},
		{name: "zero values get defaults", mutate: func(c *Config) {
			c.Queue = QueueConfig{}
			c.API.MaxAttempts = 0
			c.Store.Backend = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if !errors.Is(err, ErrInvalid) {
					t.Fatalf("expected ErrInvalid, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if cfg.Queue.MaxQueueSize != 100 || cfg.API.MaxAttempts != 3 || cfg.Store.Backend == "" {
				t.Errorf("defaults not applied: %+v", cfg)
			}
		})
	}
}

func TestParse(t *testing.T) {
	cfg, err := Parse(nil)
	if err != nil {
		t.Fatalf("Parse(nil): %v", err)
	}
	if cfg.Store.Backend != BackendFile {
		t.Errorf("expected default backend, got %s", cfg.Store.Backend)
	}

	cfg, err = Parse([]byte(`{"api":{"appId":"abc"},"store":{"backend":"memory"}}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.API.AppID != "abc" || cfg.Store.Backend != BackendMemory {
		t.Errorf("unexpected config: %+v", cfg)
	}

	if _, err := Parse([]byte(`{"store":{"backend":"tape"}}`)); err == nil {
		t.Error("expected validation error")
	}
}

func TestSaveConfigRoundTrip(t *testing.T) {
	tmpDir := t.TempDir()

	for _, name := range []string{"config.json", "config.toml", "config.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(tmpDir, "nested", name)

			cfg := DefaultConfig()
			cfg.Server.DataDir = filepath.Join(tmpDir, "data")
			cfg.API.AppID = "round-trip"
			cfg.MQTT = &MQTTConfig{Broker: "tcp://localhost:1883"}

			if err := cfg.Save(path); err != nil {
				t.Fatalf("Save: %v", err)
			}
			loaded, err := Load(path)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if loaded.API.AppID != "round-trip" {
				t.Errorf("expected appId round-trip, got %q", loaded.API.AppID)
			}
			if loaded.MQTT == nil || loaded.MQTT.Broker != "tcp://localhost:1883" {
				t.Errorf("mqtt section lost: %+v", loaded.MQTT)
			}
		})
	}
}

func TestSaveConfigJSONShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := DefaultConfig().Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("saved config is not JSON: %v", err)
	}
	for _, key := range []string{"server", "api", "queue", "store", "network"} {
		if _, ok := raw[key]; !ok {
			t.Errorf("missing %q section", key)
		}
	}
	if _, ok := raw["mqtt"]; ok {
		t.Error("nil mqtt section should be omitted")
	}
}

func TestSaveConfigReadOnlyDir(t *testing.T) {
	if os.Getuid() == 0 {
		t.Skip("root ignores directory permissions")
	}
	dir := filepath.Join(t.TempDir(), "ro")
	os.MkdirAll(dir, 0500)

	if err := DefaultConfig().Save(filepath.Join(dir, "config.json")); err == nil {
		t.Error("expected error writing into read-only dir")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"WARNING", slog.LevelWarn},
		{"error", slog.LevelError},
		{"unknown", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLogLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ParseLogLevel maps a server.logLevel value to a slog level. Unknown
// names mean info.
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ErrInvalid is wrapped by every Validate failure.
var ErrInvalid = errors.New("invalid config")

// Config holds all Rapport configuration
type Config struct {
	// Process settings
	Server ServerConfig `json:"server" toml:"server" yaml:"server"`

	// Feedback backend
	API APIConfig `json:"api" toml:"api" yaml:"api"`

	// Offline queue behaviour, shared by both queues
	Queue QueueConfig `json:"queue" toml:"queue" yaml:"queue"`

	// Where queued items are persisted
	Store StoreConfig `json:"store" toml:"store" yaml:"store"`

	// Connectivity detection
	Network NetworkConfig `json:"network" toml:"network" yaml:"network"`

	// Optional MQTT transport instead of HTTP
	MQTT *MQTTConfig `json:"mqtt,omitempty" toml:"mqtt,omitempty" yaml:"mqtt,omitempty"`
}

type ServerConfig struct {
	DataDir     string `json:"dataDir" toml:"dataDir" yaml:"dataDir"`
	LogLevel    string `json:"logLevel" toml:"logLevel" yaml:"logLevel"`
	MetricsAddr string `json:"metricsAddr,omitempty" toml:"metricsAddr,omitempty" yaml:"metricsAddr,omitempty"` // empty disables /metrics
}

type APIConfig struct {
	Endpoint       string `json:"endpoint" toml:"endpoint" yaml:"endpoint"`
	AppID          string `json:"appId" toml:"appId" yaml:"appId"`
	APISecret      string `json:"apiSecret,omitempty" toml:"apiSecret,omitempty" yaml:"apiSecret,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds" toml:"timeoutSeconds" yaml:"timeoutSeconds"`
	MaxAttempts    int    `json:"maxAttempts" toml:"maxAttempts" yaml:"maxAttempts"` // request-level attempts per submission
}

// QueueConfig bounds the offline queues and sets how often they retry.
type QueueConfig struct {
	MaxQueueSize         int    `json:"maxQueueSize" toml:"maxQueueSize" yaml:"maxQueueSize"`
	MaxRetryAttempts     int    `json:"maxRetryAttempts" toml:"maxRetryAttempts" yaml:"maxRetryAttempts"`
	RetryIntervalSeconds int    `json:"retryIntervalSeconds" toml:"retryIntervalSeconds" yaml:"retryIntervalSeconds"`
	RetrySchedule        string `json:"retrySchedule,omitempty" toml:"retrySchedule,omitempty" yaml:"retrySchedule,omitempty"` // cron expression, overrides the interval
}

// Store backends.
const (
	BackendFile   = "file"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

type StoreConfig struct {
	Backend  string `json:"backend" toml:"backend" yaml:"backend"`
	Path     string `json:"path,omitempty" toml:"path,omitempty" yaml:"path,omitempty"` // defaults under Server.DataDir
	RedisURL string `json:"redisUrl,omitempty" toml:"redisUrl,omitempty" yaml:"redisUrl,omitempty"`
}

type NetworkConfig struct {
	ProbeURL             string `json:"probeUrl,omitempty" toml:"probeUrl,omitempty" yaml:"probeUrl,omitempty"` // defaults to API.Endpoint
	ProbeIntervalSeconds int    `json:"probeIntervalSeconds" toml:"probeIntervalSeconds" yaml:"probeIntervalSeconds"`
}

type MQTTConfig struct {
	Broker   string `json:"broker" toml:"broker" yaml:"broker"` // e.g. tcp://localhost:1883
	ClientID string `json:"clientId,omitempty" toml:"clientId,omitempty" yaml:"clientId,omitempty"`
	Username string `json:"username,omitempty" toml:"username,omitempty" yaml:"username,omitempty"`
	Password string `json:"password,omitempty" toml:"password,omitempty" yaml:"password,omitempty"`
}

// RetryInterval returns the queue retry period as a duration.
func (q QueueConfig) RetryInterval() time.Duration {
	return time.Duration(q.RetryIntervalSeconds) * time.Second
}

// Timeout returns the per-request client timeout.
func (a APIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

// ProbeInterval returns the connectivity polling period.
func (n NetworkConfig) ProbeInterval() time.Duration {
	return time.Duration(n.ProbeIntervalSeconds) * time.Second
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			DataDir:  "./data",
			LogLevel: "info",
		},
		API: APIConfig{
			TimeoutSeconds: 30,
			MaxAttempts:    3,
		},
		Queue: QueueConfig{
			MaxQueueSize:         100,
			MaxRetryAttempts:     5,
			RetryIntervalSeconds: 180, // 3 minutes
		},
		Store: StoreConfig{
			Backend: BackendFile,
		},
		Network: NetworkConfig{
			ProbeIntervalSeconds: 30,
		},
	}
}

// Load reads config from a JSON, TOML or YAML file, picked by extension.
func Load(path string) (*Config, error) {
	cfg, err := decodeFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Parse decodes a JSON document on top of the defaults and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(strings.TrimSpace(string(data))) > 0 {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decodeFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate fills zero values with defaults and rejects values that cannot
// work.
func (c *Config) Validate() error {
	def := DefaultConfig()

	if c.Server.DataDir == "" {
		c.Server.DataDir = def.Server.DataDir
	}
	if c.Server.LogLevel == "" {
		c.Server.LogLevel = def.Server.LogLevel
	}
	switch strings.ToLower(c.Server.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("%w: server.logLevel %q", ErrInvalid, c.Server.LogLevel)
	}

	if c.API.TimeoutSeconds <= 0 {
		c.API.TimeoutSeconds = def.API.TimeoutSeconds
	}
	if c.API.MaxAttempts <= 0 {
		c.API.MaxAttempts = def.API.MaxAttempts
	}
	if c.API.Endpoint != "" && !strings.HasPrefix(c.API.Endpoint, "http://") && !strings.HasPrefix(c.API.Endpoint, "https://") {
		return fmt.Errorf("%w: api.endpoint must be an http(s) URL, got %q", ErrInvalid, c.API.Endpoint)
	}

	if c.Queue.MaxQueueSize <= 0 {
		c.Queue.MaxQueueSize = def.Queue.MaxQueueSize
	}
	if c.Queue.MaxRetryAttempts <= 0 {
		c.Queue.MaxRetryAttempts = def.Queue.MaxRetryAttempts
	}
	if c.Queue.RetryIntervalSeconds <= 0 {
		c.Queue.RetryIntervalSeconds = def.Queue.RetryIntervalSeconds
	}

	if c.Store.Backend == "" {
		c.Store.Backend = def.Store.Backend
	}
	switch c.Store.Backend {
	case BackendFile, BackendSQLite, BackendMemory:
	case BackendRedis:
		if c.Store.RedisURL == "" {
			return fmt.Errorf("%w: store.redisUrl is required for the redis backend", ErrInvalid)
		}
	default:
		return fmt.Errorf("%w: store.backend %q (use file, sqlite, redis or memory)", ErrInvalid, c.Store.Backend)
	}

	if c.Network.ProbeIntervalSeconds <= 0 {
		c.Network.ProbeIntervalSeconds = def.Network.ProbeIntervalSeconds
	}

	if c.MQTT != nil && c.MQTT.Broker == "" {
		return fmt.Errorf("%w: mqtt.broker is required when mqtt is set", ErrInvalid)
	}
	return nil
}

// StorePath returns the configured store path or the backend's default
// location under the data directory.
func (c *Config) StorePath() string {
	if c.Store.Path != "" {
		return c.Store.Path
	}
	switch c.Store.Backend {
	case BackendSQLite:
		return filepath.Join(c.Server.DataDir, "rapport.db")
	default:
		return filepath.Join(c.Server.DataDir, "queue")
	}
}

// Save writes config to a JSON, TOML or YAML file, picked by extension.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		var buf strings.Builder
		err = toml.NewEncoder(&buf).Encode(c)
		data = []byte(buf.String())
	case ".yaml", ".yml":
		data, err = yaml.Marshal(c)
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"strings"

	"github.com/clawinfra/rapport/internal/config"
	"github.com/clawinfra/rapport/internal/netstate"
	"github.com/clawinfra/rapport/internal/sdk"
)

// DefaultConfigPath is used when --config is not given.
const DefaultConfigPath = "rapport.toml"

// LoadConfig loads path. A missing file yields the defaults, and when
// create is set those defaults are also written to path.
func LoadConfig(path string, create bool, logger *slog.Logger) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err == nil {
		logger.Info("config loaded", "path", path)
		return cfg, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load config: %w", err)
	}

	cfg = config.DefaultConfig()
	if create {
		logger.Info("config file not found, creating default", "path", path)
		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("save default config: %w", err)
		}
	} else {
		logger.Debug("config file not found, using defaults", "path", path)
	}
	return cfg, nil
}

// NewLogger returns a text logger on w whose level follows lv.
func NewLogger(w io.Writer, lv slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lv}))
}

// commonFlags are shared by every one-shot command.
type commonFlags struct {
	configPath string
	verbose    bool
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.configPath, "config", DefaultConfigPath, "Path to config file")
	fs.BoolVar(&c.verbose, "v", false, "Verbose logging")
}

// logger logs warnings and above unless -v was given.
func (c *commonFlags) logger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if c.verbose {
		level = slog.LevelDebug
	}
	return NewLogger(w, level)
}

// openClient loads config and builds an sdk client. With offline set the
// client never probes and every event goes to the queue.
func (c *commonFlags) openClient(ctx context.Context, errOut io.Writer, offline bool) (*sdk.Client, *config.Config, error) {
	logger := c.logger(errOut)
	cfg, err := LoadConfig(c.configPath, false, logger)
	if err != nil {
		return nil, nil, err
	}

	deps := sdk.Deps{Logger: logger}
	if offline {
		deps.Observer = netstate.NewManual()
	}
	client, err := sdk.New(ctx, cfg, deps)
	if err != nil {
		return nil, nil, err
	}
	return client, cfg, nil
}

// metaFlag collects repeated k=v flags.
type metaFlag map[string]string

func (m metaFlag) String() string {
	parts := make([]string, 0, len(m))
	for k, v := range m {
		parts = append(parts, k+"="+v)
	}
	return strings.Join(parts, ",")
}

func (m metaFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	m[k] = v
	return nil
}

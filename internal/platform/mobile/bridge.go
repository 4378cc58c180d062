// Package mobile exposes the SDK to Android and iOS hosts through gomobile.
//
// # Building
//
//	go install golang.org/x/mobile/cmd/gomobile@latest
//	gomobile init
//	gomobile bind -target android -o rapport.aar github.com/clawinfra/rapport/internal/platform/mobile
//	gomobile bind -target ios -o Rapport.xcframework github.com/clawinfra/rapport/internal/platform/mobile
//
// Only primitive types cross the binding. Structured results are returned
// as JSON strings. The host owns connectivity detection and reports it with
// SetNetworkAvailable.
package mobile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/clawinfra/rapport/internal/config"
	"github.com/clawinfra/rapport/internal/netstate"
	"github.com/clawinfra/rapport/internal/queue"
	"github.com/clawinfra/rapport/internal/sdk"
)

// callTimeout bounds each blocking call made from the host's thread.
const callTimeout = 45 * time.Second

// Bridge wraps an sdk.Client for the host app. All methods are safe to call
// from any thread.
type Bridge struct {
	client   *sdk.Client
	level    *slog.LevelVar
	logger   *slog.Logger
	platform string

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// NewBridge creates a bridge storing its queues under dataDir. configJSON
// may be empty; otherwise it is a JSON config document whose server.dataDir
// is overridden by dataDir.
func NewBridge(dataDir, configJSON string) (*Bridge, error) {
	return NewPlatformBridge("mobile", dataDir, configJSON)
}

// NewPlatformBridge is NewBridge with a platform name that is attached to
// feedback metadata and reported by Status.
func NewPlatformBridge(platform, dataDir, configJSON string) (*Bridge, error) {
	if platform == "" {
		platform = "mobile"
	}
	if dataDir == "" {
		return nil, errors.New("mobile: dataDir is required")
	}

	cfg, err := config.Parse([]byte(configJSON))
	if err != nil {
		return nil, fmt.Errorf("mobile: %w", err)
	}
	cfg.Server.DataDir = dataDir

	level := new(slog.LevelVar)
	level.Set(config.ParseLogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client, err := sdk.New(context.Background(), cfg, sdk.Deps{
		Logger:   logger,
		Observer: netstate.NewManual(),
	})
	if err != nil {
		return nil, fmt.Errorf("mobile: %w", err)
	}

	return &Bridge{
		client:   client,
		level:    level,
		logger:   logger.With("component", "mobile", "platform", platform),
		platform: platform,
	}, nil
}

// Start launches the retry timers. Calling it again is a no-op.
func (b *Bridge) Start() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.running {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := b.client.Start(ctx); err != nil {
		cancel()
		return err
	}
	b.cancel = cancel
	b.running = true
	b.logger.Info("bridge started", "install_id", b.client.InstallID())
	return nil
}

// Stop shuts the SDK down. Queued items stay on disk for the next launch.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	err := b.client.Close()
	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
	if b.running {
		b.logger.Info("bridge stopped")
	}
	b.running = false
	return err
}

// SubmitFeedback sends a 1-5 rating with optional text and returns the
// receipt as JSON.
func (b *Bridge) SubmitFeedback(rating int, text string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	r, err := b.client.SubmitFeedback(ctx, rating, text, map[string]string{"platform": b.platform})
	if err != nil {
		return "", err
	}
	return toJSON(r), nil
}

// TrackExperience records an experience event and returns the receipt as
// JSON.
func (b *Bridge) TrackExperience(value int, where string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()

	r, err := b.client.TrackExperience(ctx, value, where)
	if err != nil {
		return "", err
	}
	return toJSON(r), nil
}

// SetNetworkAvailable reports connectivity from the platform's network
// callback.
func (b *Bridge) SetNetworkAvailable(available bool) {
	b.client.SetNetworkAvailable(available)
}

// QueueSize returns the number of items waiting in the "feedback" or
// "experience" queue, or -1 for an unknown kind.
func (b *Bridge) QueueSize(kind string) int {
	k, err := queue.ParseKind(kind)
	if err != nil {
		return -1
	}
	return b.client.QueueSize(context.Background(), k)
}

// ClearQueue empties the named queue.
func (b *Bridge) ClearQueue(kind string) error {
	k, err := queue.ParseKind(kind)
	if err != nil {
		return err
	}
	return b.client.ClearQueue(context.Background(), k)
}

// Flush processes both queues now and waits for the passes to finish.
func (b *Bridge) Flush() error {
	ctx, cancel := context.WithTimeout(context.Background(), callTimeout)
	defer cancel()
	return b.client.Flush(ctx)
}

// Pending returns the total number of queued items across both queues.
func (b *Bridge) Pending() int {
	n := 0
	for _, k := range queue.Kinds {
		n += b.client.QueueSize(context.Background(), k)
	}
	return n
}

// SetLogLevel changes verbosity at runtime.
func (b *Bridge) SetLogLevel(level string) {
	b.level.Set(config.ParseLogLevel(level))
}

// InstallID returns the persistent installation id.
func (b *Bridge) InstallID() string {
	return b.client.InstallID()
}

// Status returns queue sizes and connectivity as JSON.
func (b *Bridge) Status() string {
	b.mu.Lock()
	running := b.running
	b.mu.Unlock()

	st := struct {
		sdk.Status
		Running  bool   `json:"running"`
		Platform string `json:"platform"`
	}{
		Status:   b.client.Status(context.Background()),
		Running:  running,
		Platform: b.platform,
	}
	return toJSON(st)
}

func toJSON(v any) string {
	data, _ := json.Marshal(v)
	return string(data)
}

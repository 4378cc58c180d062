// Package sdk is the host-facing entry point: it wires config, stores, a
// transport and a connectivity observer into one queue engine per kind.
package sdk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clawinfra/rapport/internal/config"
	"github.com/clawinfra/rapport/internal/netstate"
	"github.com/clawinfra/rapport/internal/queue"
	"github.com/clawinfra/rapport/internal/security"
	"github.com/clawinfra/rapport/internal/store"
	"github.com/clawinfra/rapport/internal/submit"
)

var (
	// ErrClosed is returned by calls made after Close.
	ErrClosed = errors.New("sdk: client closed")
	// ErrInvalidRating is returned for ratings outside 1..5.
	ErrInvalidRating = errors.New("sdk: rating must be between 1 and 5")
	// ErrOffline is returned by Flush while the network is unavailable.
	ErrOffline = errors.New("sdk: network unavailable")
)

// Stores yields one queue store per kind. *store.Set satisfies it.
type Stores interface {
	Queue(kind queue.Kind) queue.Store
}

// Deps overrides the components New would otherwise build from config.
// Every field is optional.
type Deps struct {
	Logger    *slog.Logger
	Stores    Stores
	Submitter queue.Submitter
	Observer  netstate.Observer
	Recorder  queue.Recorder
	OnDrop    queue.DropHandler
	// OnNetwork is told about every connectivity report after the engines.
	OnNetwork netstate.Listener
}

// Receipt describes what happened to a submitted event.
type Receipt struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Queued bool   `json:"queued"` // false means delivered immediately
}

// Status is a point-in-time view of the client.
type Status struct {
	InstallID string         `json:"installId"`
	Online    bool           `json:"online"`
	Queues    map[string]int `json:"queues"`
}

// Client owns the engines for every queue kind.
type Client struct {
	cfg       *config.Config
	logger    *slog.Logger
	installID string

	engines   map[queue.Kind]*queue.Engine
	submitter queue.Submitter
	observer  netstate.Observer
	onNetHook netstate.Listener
	closers   []io.Closer

	online  atomic.Bool
	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	// ops tracks sends and flushes so Close can wait for them before the
	// stores are released.
	ops sync.WaitGroup
}

// New builds a client from cfg. It does not start timers or observers.
func New(ctx context.Context, cfg *config.Config, deps Deps) (*Client, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	c := &Client{
		cfg:       cfg,
		logger:    logger.With("component", "sdk"),
		engines:   make(map[queue.Kind]*queue.Engine, len(queue.Kinds)),
		onNetHook: deps.OnNetwork,
	}

	installID, err := loadInstallID(cfg.Server.DataDir)
	if err != nil {
		return nil, err
	}
	c.installID = installID

	stores := deps.Stores
	if stores == nil {
		set, err := store.Open(ctx, cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("open stores: %w", err)
		}
		stores = set
		c.closers = append(c.closers, set)
	}

	c.submitter = deps.Submitter
	if c.submitter == nil {
		c.submitter = c.defaultSubmitter(logger)
	}

	c.observer = deps.Observer
	if c.observer == nil {
		c.observer = c.defaultObserver(logger)
	}

	sched, err := queue.ParseSchedule(cfg.Queue.RetrySchedule, cfg.Queue.RetryInterval())
	if err != nil {
		c.closeAll()
		return nil, err
	}

	for _, kind := range queue.Kinds {
		s := stores.Queue(kind)
		if s == nil {
			c.closeAll()
			return nil, fmt.Errorf("no store for %s queue", kind)
		}
		e := queue.NewEngine(queue.Config{
			Kind:             kind,
			MaxQueueSize:     cfg.Queue.MaxQueueSize,
			MaxRetryAttempts: cfg.Queue.MaxRetryAttempts,
			Schedule:         sched,
		}, s, c.submitter, logger)
		e.SetRecorder(deps.Recorder)
		e.SetDropHandler(deps.OnDrop)
		c.engines[kind] = e
	}

	return c, nil
}

func (c *Client) defaultSubmitter(logger *slog.Logger) queue.Submitter {
	if m := c.cfg.MQTT; m != nil {
		pub := submit.NewMQTT(submit.MQTTConfig{
			Broker:   m.Broker,
			ClientID: m.ClientID,
			Username: m.Username,
			Password: m.Password,
			AppID:    c.cfg.API.AppID,
		}, logger)
		c.closers = append(c.closers, pub)
		return pub
	}

	if c.cfg.API.Endpoint == "" {
		return queue.SubmitterFunc(func(context.Context, queue.Item) queue.Result {
			return queue.Retryable("api.endpoint not configured")
		})
	}

	var tokens submit.TokenSource
	if c.cfg.API.APISecret != "" {
		tokens = security.NewTokenSource(c.cfg.API.AppID, c.installID, []byte(c.cfg.API.APISecret), security.DefaultTokenExpiry)
	}
	return submit.NewHTTP(submit.HTTPConfig{
		Endpoint:    c.cfg.API.Endpoint,
		AppID:       c.cfg.API.AppID,
		Tokens:      tokens,
		Timeout:     c.cfg.API.Timeout(),
		MaxAttempts: c.cfg.API.MaxAttempts,
	}, logger)
}

func (c *Client) defaultObserver(logger *slog.Logger) netstate.Observer {
	url := c.cfg.Network.ProbeURL
	if url == "" {
		url = c.cfg.API.Endpoint
	}
	if url == "" {
		return netstate.NewManual()
	}
	return netstate.NewProbe(url, c.cfg.Network.ProbeInterval(), logger)
}

// loadInstallID reads the install id from dataDir, creating one on first
// run.
func loadInstallID(dataDir string) (string, error) {
	path := filepath.Join(dataDir, "install_id")
	data, err := os.ReadFile(path)
	if err == nil {
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("read install id: %w", err)
	}

	if err := os.MkdirAll(dataDir, 0750); err != nil {
		return "", fmt.Errorf("create data dir: %w", err)
	}
	id := uuid.NewString()
	if err := os.WriteFile(path, []byte(id+"\n"), 0640); err != nil {
		return "", fmt.Errorf("write install id: %w", err)
	}
	return id, nil
}

// Start launches the retry timers, connects the MQTT transport if one is
// configured, and starts the connectivity observer.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	if c.started {
		return errors.New("sdk: client already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if pub, ok := c.submitter.(*submit.MQTT); ok {
		if err := pub.Connect(); err != nil {
			// paho keeps retrying in the background.
			c.logger.Warn("mqtt connect failed, retrying in background", "error", err)
		}
	}

	for _, kind := range queue.Kinds {
		if err := c.engines[kind].Start(ctx); err != nil {
			cancel()
			return err
		}
	}

	if err := c.observer.Start(netstate.Fanout(c.onNetwork, c.onNetHook)); err != nil {
		c.logger.Warn("network observer failed to start", "error", err)
	}

	c.started = true
	c.logger.Info("sdk started", "install_id", c.installID, "backend", c.cfg.Store.Backend)
	return nil
}

// onNetwork forwards connectivity to every engine.
func (c *Client) onNetwork(available bool) {
	c.online.Store(available)
	for _, kind := range queue.Kinds {
		c.engines[kind].OnNetworkStateChanged(available)
	}
}

// SetNetworkAvailable lets the host report connectivity directly.
func (c *Client) SetNetworkAvailable(available bool) {
	c.mu.Lock()
	started := c.started
	c.mu.Unlock()

	if m, ok := c.observer.(*netstate.Manual); ok && started {
		m.Set(available)
		return
	}
	c.onNetwork(available)
}

// Online reports the last known connectivity.
func (c *Client) Online() bool { return c.online.Load() }

// InstallID returns the persistent id of this installation.
func (c *Client) InstallID() string { return c.installID }

// Engine returns the engine for kind.
func (c *Client) Engine(kind queue.Kind) *queue.Engine { return c.engines[kind] }

// SubmitFeedback sends a rating with optional text and metadata.
func (c *Client) SubmitFeedback(ctx context.Context, rating int, text string, meta map[string]string) (Receipt, error) {
	if rating < 1 || rating > 5 {
		return Receipt{}, ErrInvalidRating
	}
	return c.send(ctx, queue.KindFeedback, queue.FeedbackPayload{Rating: rating, Feedback: text, Metadata: meta})
}

// TrackExperience sends an experience event.
func (c *Client) TrackExperience(ctx context.Context, value int, where string) (Receipt, error) {
	return c.send(ctx, queue.KindExperience, queue.ExperiencePayload{Value: value, Context: where})
}

// send delivers immediately when online and queues on failure or while
// offline.
func (c *Client) send(ctx context.Context, kind queue.Kind, payload any) (Receipt, error) {
	if !c.beginOp() {
		return Receipt{}, ErrClosed
	}
	defer c.ops.Done()

	item, err := queue.NewItem(kind, payload)
	if err != nil {
		return Receipt{}, err
	}
	receipt := Receipt{ID: item.ID, Kind: string(kind)}

	if c.online.Load() {
		res := c.submitter.Submit(ctx, item)
		if res.OK() {
			return receipt, nil
		}
		c.logger.Info("immediate submission failed, queueing",
			"id", item.ID,
			"kind", kind,
			"outcome", res.Outcome.String(),
			"message", res.Message)
	}

	if err := c.engines[kind].EnqueueItem(ctx, item); err != nil {
		return Receipt{}, err
	}
	receipt.Queued = true
	return receipt, nil
}

// QueueSize returns the number of items waiting in kind's queue.
func (c *Client) QueueSize(ctx context.Context, kind queue.Kind) int {
	e, ok := c.engines[kind]
	if !ok {
		return 0
	}
	return e.Size(ctx)
}

// ClearQueue drops every item waiting in kind's queue.
func (c *Client) ClearQueue(ctx context.Context, kind queue.Kind) error {
	e, ok := c.engines[kind]
	if !ok {
		return fmt.Errorf("unknown queue kind: %q", kind)
	}
	return e.Clear(ctx)
}

// Flush runs a processing pass on every queue concurrently and waits for
// them to finish.
func (c *Client) Flush(ctx context.Context) error {
	if !c.beginOp() {
		return ErrClosed
	}
	defer c.ops.Done()
	if !c.online.Load() {
		return ErrOffline
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, kind := range queue.Kinds {
		e := c.engines[kind]
		g.Go(func() error {
			e.ProcessQueue(ctx)
			return ctx.Err()
		})
	}
	return g.Wait()
}

// Reconfigure applies new queue settings to every engine.
func (c *Client) Reconfigure(q config.QueueConfig) error {
	sched, err := queue.ParseSchedule(q.RetrySchedule, q.RetryInterval())
	if err != nil {
		return err
	}
	for _, kind := range queue.Kinds {
		c.engines[kind].Reconfigure(queue.Config{
			MaxQueueSize:     q.MaxQueueSize,
			MaxRetryAttempts: q.MaxRetryAttempts,
			Schedule:         sched,
		})
	}
	return nil
}

// Status returns queue sizes and connectivity.
func (c *Client) Status(ctx context.Context) Status {
	st := Status{
		InstallID: c.installID,
		Online:    c.online.Load(),
		Queues:    make(map[string]int, len(c.engines)),
	}
	for kind, e := range c.engines {
		st.Queues[string(kind)] = e.Size(ctx)
	}
	return st
}

// beginOp registers an operation with ops unless the client is closed. The
// caller must call c.ops.Done when it returns true.
func (c *Client) beginOp() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.ops.Add(1)
	return true
}

// Close stops the observer and the timers, waits for in-flight passes,
// sends and flushes, and releases the stores. Queued items stay persisted.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	cancel := c.cancel
	c.mu.Unlock()

	c.observer.Stop()
	for _, e := range c.engines {
		e.Cleanup()
	}
	for _, e := range c.engines {
		e.Wait()
	}
	c.ops.Wait()
	if cancel != nil {
		cancel()
	}

	err := c.closeAll()
	c.logger.Info("sdk closed")
	return err
}

func (c *Client) closeAll() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}

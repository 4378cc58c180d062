package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultMaxQueueSize bounds each queue.
	DefaultMaxQueueSize = 100
	// DefaultMaxRetryAttempts is the queue-level retry budget per item. An
	// item is kept while its RetryCount is below the budget, so it gets up
	// to budget+1 attempts before it is dropped.
	DefaultMaxRetryAttempts = 5
)

// Config holds per-engine settings.
type Config struct {
	Kind             Kind
	MaxQueueSize     int
	MaxRetryAttempts int
	// Schedule drives the retry timer. Nil means every DefaultRetryInterval.
	Schedule cron.Schedule
}

func (c Config) withDefaults() Config {
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = DefaultMaxQueueSize
	}
	if c.MaxRetryAttempts <= 0 {
		c.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if c.Schedule == nil {
		c.Schedule = cron.Every(DefaultRetryInterval)
	}
	return c
}

// DropHandler is told about every item removed without being delivered:
// retry budget exhausted or evicted by the size bound.
type DropHandler func(item Item, reason string)

// Engine owns one offline queue: bounded enqueue, single-flight processing,
// per-item retry accounting, and the timer and connectivity triggers.
type Engine struct {
	kind      Kind
	cfgMu     sync.RWMutex
	cfg       Config
	store     Store
	submitter Submitter
	logger    *slog.Logger
	recorder  Recorder
	onDrop    DropHandler

	// storeMu serializes read-modify-write sequences against the store.
	// It is never held across a submission.
	storeMu sync.Mutex

	networkAvailable atomic.Bool
	processing       atomic.Bool

	baseCtx context.Context
	passes  sync.WaitGroup

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	loopWG  sync.WaitGroup
}

// NewEngine creates an engine for cfg.Kind. It does not start the timer.
func NewEngine(cfg Config, store Store, submitter Submitter, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		kind:      cfg.Kind,
		cfg:       cfg.withDefaults(),
		store:     store,
		submitter: submitter,
		logger:    logger.With("component", "queue", "queue", string(cfg.Kind)),
		recorder:  nopRecorder{},
		baseCtx:   context.Background(),
	}
}

// SetRecorder installs a metrics recorder.
func (e *Engine) SetRecorder(r Recorder) {
	if r == nil {
		r = nopRecorder{}
	}
	e.recorder = r
}

// SetDropHandler installs a callback for undelivered items. Without one,
// drops are only logged.
func (e *Engine) SetDropHandler(h DropHandler) {
	e.onDrop = h
}

// Kind returns the queue kind this engine serves.
func (e *Engine) Kind() Kind { return e.kind }

func (e *Engine) settings() Config {
	e.cfgMu.RLock()
	defer e.cfgMu.RUnlock()
	return e.cfg
}

// Reconfigure swaps the size bound, retry budget and schedule. The kind is
// fixed for the engine's lifetime. A running retry timer is restarted on
// the new schedule; queued items are trimmed on the next enqueue or pass.
func (e *Engine) Reconfigure(cfg Config) {
	cfg.Kind = e.kind
	cfg = cfg.withDefaults()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		close(e.stopCh)
		e.loopWG.Wait()
	}

	e.cfgMu.Lock()
	e.cfg = cfg
	e.cfgMu.Unlock()

	if e.running {
		e.stopCh = make(chan struct{})
		e.loopWG.Add(1)
		go e.retryLoop(e.baseCtx, e.stopCh, cfg.Schedule)
	}

	e.logger.Info("queue engine reconfigured",
		"max_queue_size", cfg.MaxQueueSize,
		"max_retry_attempts", cfg.MaxRetryAttempts)
}

// NetworkAvailable reports the last connectivity state the engine was told.
func (e *Engine) NetworkAvailable() bool { return e.networkAvailable.Load() }

// Enqueue wraps payload in a new item and appends it to the queue, evicting
// the oldest item when the queue is full.
func (e *Engine) Enqueue(ctx context.Context, payload any) (Item, error) {
	item, err := NewItem(e.kind, payload)
	if err != nil {
		return Item{}, err
	}
	if err := e.EnqueueItem(ctx, item); err != nil {
		return Item{}, err
	}
	return item, nil
}

// EnqueueItem appends a prepared item. A missing id or timestamp is filled
// in and the retry count is reset.
func (e *Engine) EnqueueItem(ctx context.Context, item Item) error {
	if item.ID == "" || item.EnqueuedAt.IsZero() {
		fresh, err := NewItem(e.kind, item.Payload)
		if err != nil {
			return err
		}
		if item.ID == "" {
			item.ID = fresh.ID
		}
		if item.EnqueuedAt.IsZero() {
			item.EnqueuedAt = fresh.EnqueuedAt
		}
	}
	cfg := e.settings()
	item.Kind = e.kind
	item.RetryCount = 0

	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	items, err := e.store.Read(ctx)
	if err != nil {
		return fmt.Errorf("read %s queue: %w", e.kind, err)
	}

	kept, evicted := appendBounded(withoutID(items, item.ID), item, cfg.MaxQueueSize)
	if err := e.store.Write(ctx, kept); err != nil {
		return fmt.Errorf("write %s queue: %w", e.kind, err)
	}

	e.recorder.Enqueued(e.kind)
	e.recorder.Depth(e.kind, len(kept))
	for _, old := range evicted {
		e.recorder.Evicted(e.kind)
		e.drop(old, "evicted: queue full")
	}

	e.logger.Debug("item queued", "id", item.ID, "size", len(kept), "evicted", len(evicted))
	return nil
}

// OnNetworkStateChanged records connectivity. A transition to available
// with a non-empty queue triggers a processing pass in the background.
func (e *Engine) OnNetworkStateChanged(available bool) {
	was := e.networkAvailable.Swap(available)
	e.logger.Debug("network state changed", "available", available, "was", was)

	if !available || was {
		return
	}
	if e.Size(e.context()) == 0 {
		return
	}
	e.Trigger()
}

// Trigger starts a processing pass in the background and returns at once.
func (e *Engine) Trigger() {
	e.trigger(e.context())
}

func (e *Engine) trigger(ctx context.Context) {
	e.passes.Add(1)
	go func() {
		defer e.passes.Done()
		e.ProcessQueue(ctx)
	}()
}

func (e *Engine) context() context.Context {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.baseCtx
}

// Wait blocks until every pass started by Trigger has returned.
func (e *Engine) Wait() {
	e.passes.Wait()
}

// ProcessQueue runs one processing pass in the calling goroutine. It is a
// no-op while offline or while another pass holds the single-flight guard.
func (e *Engine) ProcessQueue(ctx context.Context) {
	if !e.networkAvailable.Load() {
		return
	}
	if !e.processing.CompareAndSwap(false, true) {
		e.logger.Debug("processing already in flight, skipping")
		return
	}
	defer e.processing.Store(false)

	cfg := e.settings()
	start := time.Now()
	snapshot, err := e.takeSnapshot(ctx)
	if err != nil {
		e.logger.Error("failed to take queue snapshot", "error", err)
		return
	}
	if len(snapshot) == 0 {
		return
	}

	e.logger.Info("processing queue", "items", len(snapshot))

	remaining := make([]Item, 0, len(snapshot))
	delivered := 0
	for i, item := range snapshot {
		if err := ctx.Err(); err != nil {
			// Items never attempted go back unchanged.
			remaining = append(remaining, snapshot[i:]...)
			e.logger.Debug("pass cancelled", "error", err, "unattempted", len(snapshot)-i)
			break
		}

		res := e.submit(ctx, item)
		e.recorder.Submitted(e.kind, res.Outcome)

		if res.OK() {
			delivered++
			continue
		}

		if item.RetryCount < cfg.MaxRetryAttempts {
			item.RetryCount++
			remaining = append(remaining, item)
			e.logger.Debug("submission failed, will retry",
				"id", item.ID,
				"retry_count", item.RetryCount,
				"outcome", res.Outcome.String(),
				"message", res.Message)
			continue
		}

		e.recorder.Dropped(e.kind)
		e.drop(item, fmt.Sprintf("max retry attempts exceeded: %s", res.Message))
	}

	// The carried-over items must reach the store even if ctx was cancelled
	// mid-pass.
	size, err := e.mergeRemaining(context.WithoutCancel(ctx), remaining, cfg.MaxQueueSize)
	if err != nil {
		e.logger.Error("failed to persist remaining items", "error", err, "remaining", len(remaining))
	}

	duration := time.Since(start)
	e.recorder.PassFinished(e.kind, duration)
	e.logger.Info("queue processed",
		"delivered", delivered,
		"retrying", len(remaining),
		"size", size,
		"duration", duration)
}

// takeSnapshot reads the queue and persists an empty list in its place
// before any network call.
func (e *Engine) takeSnapshot(ctx context.Context) ([]Item, error) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	snapshot, err := e.store.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("read %s queue: %w", e.kind, err)
	}
	if len(snapshot) == 0 {
		return nil, nil
	}
	if err := e.store.Write(ctx, nil); err != nil {
		return nil, fmt.Errorf("clear %s queue: %w", e.kind, err)
	}
	return snapshot, nil
}

// mergeRemaining appends items enqueued during the pass after the carried
// over retries and persists the result, trimming from the head if the
// merge overflows the bound.
func (e *Engine) mergeRemaining(ctx context.Context, remaining []Item, maxSize int) (int, error) {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	arrived, err := e.store.Read(ctx)
	if err != nil {
		e.logger.Warn("failed to re-read queue after pass", "error", err)
		arrived = nil
	}

	merged := mergeByID(remaining, arrived)
	if over := len(merged) - maxSize; over > 0 {
		for _, old := range merged[:over] {
			e.recorder.Evicted(e.kind)
			e.drop(old, "evicted: queue full")
		}
		merged = merged[over:]
	}

	if err := e.store.Write(ctx, merged); err != nil {
		return 0, fmt.Errorf("write %s queue: %w", e.kind, err)
	}
	e.recorder.Depth(e.kind, len(merged))
	return len(merged), nil
}

// submit calls the submitter and converts a panic into a retryable result.
func (e *Engine) submit(ctx context.Context, item Item) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("submitter panicked", "id", item.ID, "panic", r)
			res = Retryable("submitter panic: %v", r)
		}
	}()

	return e.submitter.Submit(ctx, item)
}

func (e *Engine) drop(item Item, reason string) {
	e.logger.Warn("queued item dropped",
		"id", item.ID,
		"retry_count", item.RetryCount,
		"enqueued_at", item.EnqueuedAt.Format(time.RFC3339),
		"reason", reason)
	if e.onDrop != nil {
		e.onDrop(item, reason)
	}
}

// Size returns the number of persisted items. Read errors count as empty.
func (e *Engine) Size(ctx context.Context) int {
	items, err := e.store.Read(ctx)
	if err != nil {
		e.logger.Warn("failed to read queue size", "error", err)
		return 0
	}
	return len(items)
}

// Items returns a copy of the persisted queue, oldest first.
func (e *Engine) Items(ctx context.Context) ([]Item, error) {
	return e.store.Read(ctx)
}

// Clear persists an empty queue. It does not touch an in-flight pass.
func (e *Engine) Clear(ctx context.Context) error {
	e.storeMu.Lock()
	defer e.storeMu.Unlock()

	if err := e.store.Write(ctx, nil); err != nil {
		return fmt.Errorf("clear %s queue: %w", e.kind, err)
	}
	e.recorder.Depth(e.kind, 0)
	e.logger.Info("queue cleared")
	return nil
}

// Start launches the retry timer. ctx becomes the context of every
// background pass; cancelling it also stops the timer.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running {
		return fmt.Errorf("%s queue engine already running", e.kind)
	}

	e.baseCtx = ctx
	e.stopCh = make(chan struct{})
	e.running = true

	cfg := e.settings()
	e.loopWG.Add(1)
	go e.retryLoop(ctx, e.stopCh, cfg.Schedule)

	e.logger.Info("queue engine started",
		"max_queue_size", cfg.MaxQueueSize,
		"max_retry_attempts", cfg.MaxRetryAttempts,
		"next_retry", cfg.Schedule.Next(time.Now()).Format(time.RFC3339))
	return nil
}

// Cleanup stops the retry timer. It neither clears the queue nor waits for
// an in-flight pass.
func (e *Engine) Cleanup() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running {
		return
	}
	close(e.stopCh)
	e.loopWG.Wait()
	e.running = false
	e.logger.Info("queue engine stopped")
}

// retryLoop fires Trigger on every tick of the schedule.
func (e *Engine) retryLoop(ctx context.Context, stopCh <-chan struct{}, sched cron.Schedule) {
	defer e.loopWG.Done()

	timer := time.NewTimer(time.Until(sched.Next(time.Now())))
	defer timer.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ctx.Done():
			return
		case now := <-timer.C:
			e.logger.Debug("retry timer fired")
			e.trigger(ctx)
			timer.Reset(time.Until(sched.Next(now)))
		}
	}
}

func withoutID(items []Item, id string) []Item {
	for i, it := range items {
		if it.ID == id {
			out := make([]Item, 0, len(items)-1)
			out = append(out, items[:i]...)
			return append(out, items[i+1:]...)
		}
	}
	return items
}

package netstate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// DefaultProbeInterval is how often Probe checks the URL.
const DefaultProbeInterval = 30 * time.Second

// Probe is an Observer that polls an HTTP URL. Any HTTP response counts as
// connectivity; a transport error counts as offline. Only transitions are
// reported, plus the first result.
type Probe struct {
	url      string
	interval time.Duration
	client   *http.Client
	logger   *slog.Logger

	mu       sync.Mutex
	stop     chan struct{}
	done     chan struct{}
	listener Listener
	last     bool
	reported bool
}

// NewProbe creates a probe for url.
func NewProbe(url string, interval time.Duration, logger *slog.Logger) *Probe {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = DefaultProbeInterval
	}
	timeout := interval / 2
	if timeout > 10*time.Second {
		timeout = 10 * time.Second
	}
	return &Probe{
		url:      url,
		interval: interval,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With("component", "netstate"),
	}
}

// Start checks once synchronously, then polls in a goroutine.
func (p *Probe) Start(listener Listener) error {
	if listener == nil {
		return errors.New("netstate: nil listener")
	}
	if p.url == "" {
		return errors.New("netstate: probe url is empty")
	}

	p.mu.Lock()
	if p.stop != nil {
		p.mu.Unlock()
		return errors.New("netstate: probe already started")
	}
	p.listener = listener
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.mu.Unlock()

	p.check()
	go p.poll(stop, done)
	p.logger.Info("network probe started", "url", p.url, "interval", p.interval)
	return nil
}

// Stop ends polling and waits for the goroutine to exit.
func (p *Probe) Stop() {
	p.mu.Lock()
	stop, done := p.stop, p.done
	p.stop = nil
	p.mu.Unlock()

	if stop == nil {
		return
	}
	close(stop)
	<-done
	p.logger.Info("network probe stopped")
}

func (p *Probe) poll(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.check()
		}
	}
}

func (p *Probe) check() {
	available := p.reachable()

	p.mu.Lock()
	changed := !p.reported || available != p.last
	p.last, p.reported = available, true
	l := p.listener
	p.mu.Unlock()

	if changed && l != nil {
		p.logger.Info("network state", "available", available)
		l(available)
	}
}

func (p *Probe) reachable() bool {
	ctx, cancel := context.WithTimeout(context.Background(), p.client.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		p.logger.Warn("invalid probe url", "url", p.url, "error", err)
		return false
	}
	resp, err := p.client.Do(req)
	if err != nil {
		p.logger.Debug("probe failed", "error", err)
		return false
	}
	io.Copy(io.Discard, resp.Body) //nolint:errcheck
	resp.Body.Close()              //nolint:errcheck
	return true
}

var _ Observer = (*Probe)(nil)

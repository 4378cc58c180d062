// Package ios adapts the SDK to an iOS app: custom URL scheme callbacks,
// background fetch and NWPathMonitor connectivity.
//
// # Building for iOS
//
//	gomobile bind -target ios -o Rapport.xcframework github.com/clawinfra/rapport/internal/platform/ios
//
// # Background Fetch
//
// Register the task identifier in Info.plist:
//
//	<key>BGTaskSchedulerPermittedIdentifiers</key>
//	<array>
//	  <string>io.rapport.queue.flush</string>
//	</array>
//
// and call PerformBackgroundFetch from the task handler.
package ios

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"sync"

	"github.com/clawinfra/rapport/internal/platform/mobile"
	"github.com/clawinfra/rapport/internal/sdk"
)

// Background fetch results, named after UIBackgroundFetchResult.
const (
	FetchNewData = "newData"
	FetchNoData  = "noData"
	FetchFailed  = "failed"
)

// ErrNotRunning is returned by HandleURL before Start.
var ErrNotRunning = errors.New("ios: app is not running")

// App wraps the mobile bridge for the host application.
type App struct {
	bridge *mobile.Bridge
	scheme string

	mu      sync.Mutex
	running bool
}

// NewApp creates an App that stores its queues under dataDir (usually the
// Application Support directory) and accepts callbacks on urlScheme.
func NewApp(dataDir, configJSON, urlScheme string) (*App, error) {
	if urlScheme == "" {
		urlScheme = "rapport"
	}
	b, err := mobile.NewPlatformBridge("ios", dataDir, configJSON)
	if err != nil {
		return nil, err
	}
	return &App{bridge: b, scheme: urlScheme}, nil
}

// Start starts the retry timers. Calling it again is a no-op.
func (a *App) Start() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return nil
	}
	if err := a.bridge.Start(); err != nil {
		return err
	}
	a.running = true
	return nil
}

// Stop shuts the SDK down.
func (a *App) Stop() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.running {
		return nil
	}
	a.running = false
	return a.bridge.Stop()
}

func (a *App) isRunning() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.running
}

// SetPathStatus forwards an NWPath.Status ("satisfied", "unsatisfied" or
// "requiresConnection").
func (a *App) SetPathStatus(status string) {
	a.bridge.SetNetworkAvailable(status == "satisfied")
}

// HandleURL processes a callback such as
// rapport://feedback?rating=5&text=Great. It returns the receipt JSON for
// submissions and "" for flush.
func (a *App) HandleURL(rawURL string) (string, error) {
	if !a.isRunning() {
		return "", ErrNotRunning
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("ios: parse url: %w", err)
	}
	if u.Scheme != a.scheme {
		return "", fmt.Errorf("ios: unexpected scheme %q", u.Scheme)
	}
	q := u.Query()

	switch u.Host {
	case "feedback":
		rating, err := strconv.Atoi(q.Get("rating"))
		if err != nil {
			return "", fmt.Errorf("ios: rating: %w", err)
		}
		return a.bridge.SubmitFeedback(rating, q.Get("text"))
	case "experience":
		value, err := strconv.Atoi(q.Get("value"))
		if err != nil {
			return "", fmt.Errorf("ios: value: %w", err)
		}
		return a.bridge.TrackExperience(value, q.Get("context"))
	case "flush":
		return "", a.bridge.Flush()
	default:
		return "", fmt.Errorf("ios: unknown url action %q", u.Host)
	}
}

// PerformBackgroundFetch drains the queues and returns the value for the
// completion handler: newData when something was delivered, noData when
// nothing was or the device is offline, failed otherwise.
func (a *App) PerformBackgroundFetch() string {
	if !a.isRunning() {
		return FetchFailed
	}

	before := a.bridge.Pending()
	if before == 0 {
		return FetchNoData
	}
	if err := a.bridge.Flush(); err != nil {
		if errors.Is(err, sdk.ErrOffline) {
			return FetchNoData
		}
		return FetchFailed
	}
	if a.bridge.Pending() < before {
		return FetchNewData
	}
	return FetchNoData
}

// GetStatus returns the bridge status as JSON.
func (a *App) GetStatus() string {
	return a.bridge.Status()
}

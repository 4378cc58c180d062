// Package android adapts the SDK to an Android foreground service. The host
// service forwards broadcast intents to HandleIntent with the intent extras
// flattened into a JSON object.
//
// # Building for Android
//
//	gomobile bind -target android -o rapport.aar github.com/clawinfra/rapport/internal/platform/android
//
// Only primitive types cross the binding.
package android

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/clawinfra/rapport/internal/platform/mobile"
)

// Intent actions understood by HandleIntent.
const (
	ActionSubmitFeedback     = "io.rapport.ACTION_SUBMIT_FEEDBACK"
	ActionTrackExperience    = "io.rapport.ACTION_TRACK_EXPERIENCE"
	ActionFlush              = "io.rapport.ACTION_FLUSH"
	ActionStop               = "io.rapport.ACTION_STOP"
	ActionConnectivityChange = "android.net.conn.CONNECTIVITY_CHANGE"
)

// ErrNotRunning is returned by HandleIntent before Start.
var ErrNotRunning = errors.New("android: service is not running")

// Service wraps the mobile bridge for the lifetime of the host service.
type Service struct {
	bridge *mobile.Bridge

	mu      sync.Mutex
	running bool
}

// NewService creates a service that keeps its queues under dataDir, which
// should be Context.getFilesDir().
func NewService(dataDir, configJSON string) (*Service, error) {
	b, err := mobile.NewPlatformBridge("android", dataDir, configJSON)
	if err != nil {
		return nil, err
	}
	return &Service{bridge: b}, nil
}

// Start starts the retry timers. It is safe to call Start multiple times.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}
	if err := s.bridge.Start(); err != nil {
		return err
	}
	s.running = true
	return nil
}

// Stop shuts the service down. Queued items are kept for the next start.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	return s.bridge.Stop()
}

// SetNetworkAvailable forwards a ConnectivityManager.NetworkCallback
// result.
func (s *Service) SetNetworkAvailable(available bool) {
	s.bridge.SetNetworkAvailable(available)
}

// HandleIntent processes an intent received by the host service. It
// returns the receipt JSON for submit actions and "" otherwise.
func (s *Service) HandleIntent(action, extrasJSON string) (string, error) {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()

	if !running {
		return "", ErrNotRunning
	}

	extras := map[string]any{}
	if extrasJSON != "" {
		if err := json.Unmarshal([]byte(extrasJSON), &extras); err != nil {
			return "", fmt.Errorf("android: intent extras: %w", err)
		}
	}

	switch action {
	case ActionSubmitFeedback:
		rating, err := intExtra(extras, "rating")
		if err != nil {
			return "", err
		}
		text, _ := extras["text"].(string)
		return s.bridge.SubmitFeedback(rating, text)

	case ActionTrackExperience:
		value, err := intExtra(extras, "value")
		if err != nil {
			return "", err
		}
		where, _ := extras["context"].(string)
		return s.bridge.TrackExperience(value, where)

	case ActionFlush:
		return "", s.bridge.Flush()

	case ActionStop:
		return "", s.Stop()

	case ActionConnectivityChange:
		// The legacy broadcast only carries noConnectivity when it is true.
		noConn, _ := extras["noConnectivity"].(bool)
		s.bridge.SetNetworkAvailable(!noConn)
		return "", nil

	default:
		return "", fmt.Errorf("android: unknown intent action %q", action)
	}
}

// GetStatus returns the bridge status as JSON.
func (s *Service) GetStatus() string {
	return s.bridge.Status()
}

// intExtra reads an integer extra. Bundles serialise ints as JSON numbers,
// but some hosts stringify everything.
func intExtra(extras map[string]any, key string) (int, error) {
	switch v := extras[key].(type) {
	case float64:
		return int(v), nil
	case string:
		n, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("android: extra %q: %w", key, err)
		}
		return n, nil
	case nil:
		return 0, fmt.Errorf("android: intent missing %q extra", key)
	default:
		return 0, fmt.Errorf("android: extra %q has type %T", key, v)
	}
}

package mobile

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/clawinfra/rapport/internal/sdk"
)

func newTestBridge(t *testing.T, configJSON string) *Bridge {
	t.Helper()
	b, err := NewBridge(t.TempDir(), configJSON)
	if err != nil {
		t.Fatalf("NewBridge: %v", err)
	}
	t.Cleanup(func() { b.Stop() })
	return b
}

func TestNewBridgeValidation(t *testing.T) {
	if _, err := NewBridge("", ""); err == nil {
		t.Error("expected error for missing dataDir")
	}
	if _, err := NewBridge(t.TempDir(), "{not json"); err == nil {
		t.Error("expected error for malformed config")
	}
	if _, err := NewBridge(t.TempDir(), `{"store":{"backend":"cloud"}}`); err == nil {
		t.Error("expected error for invalid backend")
	}
}

func TestBridgeOfflineQueueing(t *testing.T) {
	b := newTestBridge(t, `{"server":{"logLevel":"debug"}}`)

	if err := b.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := b.Start(); err != nil {
		t.Fatalf("second Start should be a no-op: %v", err)
	}

	out, err := b.SubmitFeedback(5, "Great")
	if err != nil {
		t.Fatalf("SubmitFeedback: %v", err)
	}
	var r sdk.Receipt
	if err := json.Unmarshal([]byte(out), &r); err != nil {
		t.Fatalf("receipt is not JSON: %v", err)
	}
	if !r.Queued || r.Kind != "feedback" {
		t.Errorf("unexpected receipt %+v", r)
	}

	if _, err := b.TrackExperience(20, "onboarding"); err != nil {
		t.Fatalf("TrackExperience: %v", err)
	}

	if got := b.QueueSize("feedback"); got != 1 {
		t.Errorf("feedback queue size %d, want 1", got)
	}
	if got := b.QueueSize("experience"); got != 1 {
		t.Errorf("experience queue size %d, want 1", got)
	}
	if got := b.QueueSize("nope"); got != -1 {
		t.Errorf("expected -1 for unknown kind, got %d", got)
	}

	if err := b.Flush(); !errors.Is(err, sdk.ErrOffline) {
		t.Errorf("expected ErrOffline, got %v", err)
	}

	if err := b.ClearQueue("feedback"); err != nil {
		t.Fatalf("ClearQueue: %v", err)
	}
	if err := b.ClearQueue("nope"); err == nil {
		t.Error("expected error clearing unknown queue")
	}

	var st map[string]any
	if err := json.Unmarshal([]byte(b.Status()), &st); err != nil {
		t.Fatalf("status is not JSON: %v", err)
	}
	if st["running"] != true || st["platform"] != "mobile" {
		t.Errorf("unexpected status %v", st)
	}
	queues, _ := st["queues"].(map[string]any)
	if queues["feedback"] != float64(0) || queues["experience"] != float64(1) {
		t.Errorf("unexpected queue sizes %v", queues)
	}
	if st["installId"] != b.InstallID() || b.InstallID() == "" {
		t.Errorf("install id mismatch: %v vs %s", st["installId"], b.InstallID())
	}
}

func TestBridgeRejectsBadRating(t *testing.T) {
	b := newTestBridge(t, "")
	if _, err := b.SubmitFeedback(9, "too high"); !errors.Is(err, sdk.ErrInvalidRating) {
		t.Errorf("expected ErrInvalidRating, got %v", err)
	}
}

func TestBridgeStopIsIdempotent(t *testing.T) {
	b := newTestBridge(t, "")
	b.Start()
	b.SetLogLevel("error")
	b.SetNetworkAvailable(false)

	if err := b.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := b.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
	if _, err := b.SubmitFeedback(3, "after stop"); !errors.Is(err, sdk.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

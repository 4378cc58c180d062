package ios

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

func newTestApp(t *testing.T, configJSON string) *App {
	t.Helper()
	a, err := NewApp(t.TempDir(), configJSON, "")
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { a.Stop() })
	return a
}

func TestNewAppRequiresDataDir(t *testing.T) {
	if _, err := NewApp("", "", "rapport"); err == nil {
		t.Fatal("expected error for missing dataDir")
	}
}

func TestAppLifecycle(t *testing.T) {
	a := newTestApp(t, "")

	if got := a.PerformBackgroundFetch(); got != FetchFailed {
		t.Errorf("fetch before start = %q, want %q", got, FetchFailed)
	}
	if _, err := a.HandleURL("rapport://flush"); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning, got %v", err)
	}

	if err := a.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Start(); err != nil {
		t.Fatalf("second Start: %v", err)
	}

	var status map[string]any
	json.Unmarshal([]byte(a.GetStatus()), &status)
	if status["running"] != true || status["platform"] != "ios" {
		t.Errorf("unexpected status %v", status)
	}

	if err := a.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := a.Stop(); err != nil {
		t.Fatalf("second Stop: %v", err)
	}
}

func TestHandleURL(t *testing.T) {
	a := newTestApp(t, "")
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	out, err := a.HandleURL("rapport://feedback?rating=5&text=Great%20app")
	if err != nil {
		t.Fatalf("feedback url: %v", err)
	}
	var receipt struct {
		Kind   string `json:"kind"`
		Queued bool   `json:"queued"`
	}
	json.Unmarshal([]byte(out), &receipt)
	if receipt.Kind != "feedback" || !receipt.Queued {
		t.Errorf("unexpected receipt %s", out)
	}

	if _, err := a.HandleURL("rapport://experience?value=3&context=paywall"); err != nil {
		t.Fatalf("experience url: %v", err)
	}

	for _, bad := range []string{
		"other://feedback?rating=5",
		"rapport://feedback?rating=high",
		"rapport://feedback?rating=0",
		"rapport://experience",
		"rapport://share",
		"://",
	} {
		if _, err := a.HandleURL(bad); err == nil {
			t.Errorf("HandleURL(%q): expected error", bad)
		}
	}
}

func TestBackgroundFetch(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			return
		}
		// The first delivery fails so the event lands in the queue.
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	a := newTestApp(t, `{"api":{"endpoint":"`+srv.URL+`","maxAttempts":1}}`)
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}

	if got := a.PerformBackgroundFetch(); got != FetchNoData {
		t.Errorf("empty fetch = %q, want %q", got, FetchNoData)
	}

	a.SetPathStatus("satisfied")
	out, err := a.HandleURL("rapport://feedback?rating=4")
	if err != nil {
		t.Fatal(err)
	}
	if !json.Valid([]byte(out)) {
		t.Fatalf("receipt is not JSON: %q", out)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected an immediate attempt, got %d calls", calls.Load())
	}

	if got := a.PerformBackgroundFetch(); got != FetchNewData {
		t.Errorf("fetch = %q, want %q", got, FetchNewData)
	}
	if calls.Load() != 2 {
		t.Errorf("expected the queued item to be retried, got %d calls", calls.Load())
	}
}

func TestBackgroundFetchOffline(t *testing.T) {
	a := newTestApp(t, "")
	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	a.SetPathStatus("unsatisfied")
	if _, err := a.HandleURL("rapport://feedback?rating=2"); err != nil {
		t.Fatal(err)
	}

	if got := a.PerformBackgroundFetch(); got != FetchNoData {
		t.Errorf("offline fetch = %q, want %q", got, FetchNoData)
	}
}

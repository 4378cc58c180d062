// Package queue implements the offline submission queue: a bounded, durable
// list of feedback and experience events that could not be delivered right
// away, retried from a periodic timer and from connectivity transitions.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies which queue an item belongs to.
type Kind string

const (
	KindFeedback   Kind = "feedback"
	KindExperience Kind = "experience"
)

// Kinds lists every queue kind in a stable order.
var Kinds = []Kind{KindFeedback, KindExperience}

// ParseKind maps a user-supplied string onto a Kind.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindFeedback, KindExperience:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown queue kind: %q (use feedback or experience)", s)
	}
}

// Item is one queued submission.
type Item struct {
	ID         string          `json:"id"`
	Kind       Kind            `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
}

// FeedbackPayload is the body of a feedback submission.
type FeedbackPayload struct {
	Rating   int               `json:"rating"`
	Feedback string            `json:"feedback"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ExperiencePayload is the body of an experience event.
type ExperiencePayload struct {
	Value   int    `json:"value"`
	Context string `json:"context"`
}

// NewItem builds a fresh item with a new id, the current UTC time and a zero
// retry count. payload may be a json.RawMessage or any JSON-encodable value.
func NewItem(kind Kind, payload any) (Item, error) {
	var raw json.RawMessage
	switch p := payload.(type) {
	case json.RawMessage:
		raw = p
	case []byte:
		raw = json.RawMessage(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return Item{}, fmt.Errorf("marshal %s payload: %w", kind, err)
		}
		raw = b
	}
	if !json.Valid(raw) {
		return Item{}, fmt.Errorf("%s payload is not valid JSON", kind)
	}

	return Item{
		ID:         uuid.New().String(),
		Kind:       kind,
		Payload:    raw,
		EnqueuedAt: time.Now().UTC(),
	}, nil
}

// Store persists the ordered contents of one queue. Implementations carry no
// concurrency control of their own beyond keeping single calls atomic; the
// engine serializes read-modify-write sequences.
type Store interface {
	// Read returns the persisted items oldest first. A missing or corrupt
	// slot reads as an empty queue with a nil error.
	Read(ctx context.Context) ([]Item, error)
	// Write replaces the persisted items.
	Write(ctx context.Context, items []Item) error
}

// Outcome is the tri-state result of one submission attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeRetryable
	OutcomeTerminal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// Result is what a Submitter reports for one item.
type Result struct {
	Outcome Outcome
	Message string
}

// OK reports whether the submission was accepted.
func (r Result) OK() bool { return r.Outcome == OutcomeSuccess }

// Success is the accepted result.
func Success() Result { return Result{Outcome: OutcomeSuccess} }

// Retryable wraps a transient failure.
func Retryable(format string, args ...any) Result {
	return Result{Outcome: OutcomeRetryable, Message: fmt.Sprintf(format, args...)}
}

// Terminal wraps a failure the backend will never accept.
func Terminal(format string, args ...any) Result {
	return Result{Outcome: OutcomeTerminal, Message: fmt.Sprintf(format, args...)}
}

// Submitter performs one delivery attempt for a single item. It owns its own
// request timeout and request-level retries.
type Submitter interface {
	Submit(ctx context.Context, item Item) Result
}

// SubmitterFunc adapts a function to the Submitter interface.
type SubmitterFunc func(ctx context.Context, item Item) Result

// Submit calls f(ctx, item).
func (f SubmitterFunc) Submit(ctx context.Context, item Item) Result { return f(ctx, item) }

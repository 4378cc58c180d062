// Package submit delivers queued items to the feedback backend, over HTTP
// or as MQTT publishes.
package submit

import (
	"encoding/json"
	"time"

	"github.com/clawinfra/rapport/internal/queue"
)

// envelope is the wire body shared by every transport.
type envelope struct {
	ID         string          `json:"id"`
	Kind       queue.Kind      `json:"kind"`
	EnqueuedAt time.Time       `json:"enqueuedAt"`
	RetryCount int             `json:"retryCount"`
	Payload    json.RawMessage `json:"payload"`
}

func encodeItem(item queue.Item) ([]byte, error) {
	return json.Marshal(envelope{
		ID:         item.ID,
		Kind:       item.Kind,
		EnqueuedAt: item.EnqueuedAt,
		RetryCount: item.RetryCount,
		Payload:    item.Payload,
	})
}

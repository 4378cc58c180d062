// Package store holds the durable backends behind queue.Store: a versioned
// JSON record file, a SQLite table, and a single-key preferences slot
// (in-memory or Redis), plus a plain in-memory store.
package store

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"golang.org/x/crypto/blake2b"

	"github.com/clawinfra/rapport/internal/queue"
)

// RecordVersion is the current on-disk record format.
const RecordVersion = 1

var (
	errUnknownVersion   = errors.New("unknown record version")
	errChecksumMismatch = errors.New("record checksum mismatch")
)

// record is the envelope written by the file and preferences backends.
type record struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Items    json.RawMessage `json:"items"`
}

// encodeRecord serializes items with a version tag and a blake2b-256
// checksum over the encoded item list.
func encodeRecord(items []queue.Item) ([]byte, error) {
	if items == nil {
		items = []queue.Item{}
	}
	body, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}
	return json.Marshal(record{
		Version:  RecordVersion,
		Checksum: checksum(body),
		Items:    body,
	})
}

// decodeRecord parses and verifies a record. Any error means the slot is
// unusable and should read as empty.
func decodeRecord(data []byte) ([]queue.Item, error) {
	var env record
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parse record: %w", err)
	}
	if env.Version != RecordVersion {
		return nil, fmt.Errorf("%w: %d", errUnknownVersion, env.Version)
	}
	if checksum(env.Items) != env.Checksum {
		return nil, errChecksumMismatch
	}

	var items []queue.Item
	if err := json.Unmarshal(env.Items, &items); err != nil {
		return nil, fmt.Errorf("parse items: %w", err)
	}
	return items, nil
}

func checksum(b []byte) string {
	sum := blake2b.Sum256(b)
	return hex.EncodeToString(sum[:])
}

package cache

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Entry is a cached report payload and the moment it was written.
type Entry struct {
	Payload  json.RawMessage `json:"payload"`
	StoredAt time.Time       `json:"storedAt"`
}

// Valid reports whether the entry is younger than ttl at now.
func (e Entry) Valid(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.StoredAt) < ttl
}

func cloneEntry(in Entry) Entry {
	return Entry{Payload: bytes.Clone(in.Payload), StoredAt: in.StoredAt}
}

func encodeEntry(entry Entry) (string, error) {
	raw, err := json.Marshal(entry)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeEntry(raw string) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return Entry{}, err
	}
	if len(entry.Payload) == 0 {
		return Entry{}, errors.New("payload missing")
	}
	if entry.StoredAt.IsZero() {
		return Entry{}, errors.New("storedAt missing")
	}
	return entry, nil
}

// StorageError describes a durable tier failure. The Store absorbs these; the
// type exists so logs and tests can tell them apart.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache: durable %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

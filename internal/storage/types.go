package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": dependency-free file backend (jsonl + snapshot)
//   - "sqlite": SQLite database file (optional build tag)
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// SessionRecord is one account's persisted remote session.
type SessionRecord struct {
	Token         string            `json:"token"`
	Cookies       map[string]string `json:"cookies,omitempty"`
	LastValidated time.Time         `json:"lastValidated"`
}

// ResultEntry records one pipeline outcome.
// Keep it compact and schema-stable.
type ResultEntry struct {
	At           time.Time
	RunID        string
	RequestID    string
	AccountID    string
	State        string
	FailKind     string
	Message      string
	Confirmation string
	SeatNo       int
	Route        string
	Departure    string
	ExecMS       int64
	TookMS       int64
}

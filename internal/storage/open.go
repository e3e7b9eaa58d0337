package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	logx "busbot/pkg/logx"
)

// Store is the minimal persistence API used by the pipeline.
type Store interface {
	PutSession(ctx context.Context, accountID string, rec SessionRecord) error
	GetSession(ctx context.Context, accountID string) (SessionRecord, bool, error)
	DeleteSession(ctx context.Context, accountID string) error
	// PruneSessions drops sessions not validated since the cutoff and
	// returns how many were removed.
	PruneSessions(ctx context.Context, cutoff time.Time) (int, error)

	AppendResult(ctx context.Context, e ResultEntry) error
	// RecentResults returns up to limit entries, newest last.
	RecentResults(ctx context.Context, limit int) ([]ResultEntry, error)

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}

package job

import (
	"context"
	"errors"
)

// ErrRunning is returned by Restart when the job is currently running.
var ErrRunning = errors.New("job is running")

// Store defines job persistence (SQLite and badger backed).
//
// Lookups of unknown ids report ok=false rather than an error, and status
// updates for unknown ids are silently ignored so the worker never trips over
// a stale reference.
type Store interface {
	Create(ctx context.Context, payload Document) (string, error)
	List(ctx context.Context) ([]*Job, error)
	Get(ctx context.Context, id string) (*Job, bool, error)
	UpdateStatus(ctx context.Context, id string, u StatusUpdate) error
	UpdatePayload(ctx context.Context, id string, updates Document) (*Job, bool, error)
	// Restart merges updates into the payload and puts the job back to queued
	// with progress 0, in one transaction. A running job is left untouched and
	// ErrRunning is returned.
	Restart(ctx context.Context, id string, updates Document) (*Job, bool, error)
	Close() error
}

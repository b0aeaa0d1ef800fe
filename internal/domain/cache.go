package domain

import (
	"context"
	"time"
)

// LockManager provides distributed locking so multiple ledger replicas
// serialize mutations on the same bond.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus fans ledger events out to dashboards and indexers: pub/sub for
// live consumers, durable streams for catch-up reads.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// RateLimiter throttles inbound API traffic per client key.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
	Wait(ctx context.Context, key string) error
}

// PauseSwitch is the administrative emergency halt. Setting it makes every
// mutating ledger operation fail with ErrPaused until it is cleared.
type PauseSwitch interface {
	IsPaused(ctx context.Context) (bool, error)
	Pause(ctx context.Context) error
	Resume(ctx context.Context) error
}

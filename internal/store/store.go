package store

import (
	"context"
	"time"
)

// Store is the durable key/value + queue + set abstraction shared by the
// deposit monitor and the hedge orchestrator. All operations are single-key
// atomic commands; there are no multi-key transactions.
type Store interface {
	// Get returns the value for key, with ok=false on a miss.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	SetWithTTL(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX sets key only if it does not exist; returns true if it was set.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error

	// Push appends a value to the tail of a FIFO queue.
	Push(ctx context.Context, queue, value string) error
	// BlockingPop pops the head of the queue, blocking up to timeout.
	// Returns ok=false when the timeout elapses with nothing to pop.
	BlockingPop(ctx context.Context, queue string, timeout time.Duration) (string, bool, error)

	SetAdd(ctx context.Context, key string, members ...string) error
	SetMembers(ctx context.Context, key string) ([]string, error)

	SortedSetAdd(ctx context.Context, key string, score float64, member string) error
	// SortedSetRangeDesc returns up to limit members ordered by descending score.
	SortedSetRangeDesc(ctx context.Context, key string, limit int64) ([]string, error)

	Close() error
}

package interfaces

import (
	"context"
	"time"
)

// ZMember is one member of a sorted set together with its score
type ZMember struct {
	Member string
	Score  float64
}

// Subscription is a live pub/sub subscription. Messages delivers raw
// payloads until Close is called or the context given to Subscribe ends.
type Subscription interface {
	Messages() <-chan string
	Close() error
}

// Broker abstracts the shared coordination store: FIFO lists with
// blocking pop, timestamp-scored sorted sets, pub/sub channels, string
// flags and an atomic promote pipeline. All inter-process state flows
// through it.
type Broker interface {
	// List operations (FIFO queues; push to head, pop from tail)
	Push(ctx context.Context, queue string, payloads ...string) error
	// PopBlocking waits up to timeout for an element. Returns ("", nil)
	// when the timeout elapses with nothing to pop.
	PopBlocking(ctx context.Context, queue string, timeout time.Duration) (string, error)
	RemoveFromList(ctx context.Context, queue string, payload string) (int64, error)
	ListLen(ctx context.Context, queue string) (int64, error)
	ListRange(ctx context.Context, queue string, start, stop int64) ([]string, error)
	ListTrim(ctx context.Context, queue string, start, stop int64) error

	// Sorted-set operations (score = unix seconds)
	ZAdd(ctx context.Context, set string, member string, score float64) error
	ZRangeByScore(ctx context.Context, set string, min, max float64) ([]ZMember, error)
	ZRemMembers(ctx context.Context, set string, members ...string) (int64, error)
	ZCard(ctx context.Context, set string) (int64, error)

	// PromoteScheduled atomically removes member from the sorted set and
	// pushes it onto the queue; the member must not be observable in the
	// queue while still present in the set.
	PromoteScheduled(ctx context.Context, set, queue, member string) error

	// Pub/sub control channels; delivery is best-effort
	Publish(ctx context.Context, channel string, payload string) error
	Subscribe(ctx context.Context, channels ...string) (Subscription, error)

	// String flags (value "true" when set, absent otherwise)
	SetFlag(ctx context.Context, key string) error
	ClearFlag(ctx context.Context, key string) error
	GetFlag(ctx context.Context, key string) (bool, error)

	Ping(ctx context.Context) error
	Close() error
}

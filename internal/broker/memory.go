package broker

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ternarybob/aranea/internal/interfaces"
)

// Memory is an in-process Broker with the same semantics as the Redis
// implementation: FIFO lists with destructive pops, scored sets, best
// effort pub/sub and string flags. Used by tests and single-process
// deployments.
type Memory struct {
	mu    sync.Mutex
	lists map[string][]string // Index 0 is the head (most recently pushed)
	zsets map[string]map[string]float64
	flags map[string]bool
	subs  map[*memorySubscription][]string
}

// NewMemory creates an empty in-memory broker
func NewMemory() *Memory {
	return &Memory{
		lists: make(map[string][]string),
		zsets: make(map[string]map[string]float64),
		flags: make(map[string]bool),
		subs:  make(map[*memorySubscription][]string),
	}
}

func (b *Memory) Push(ctx context.Context, queue string, payloads ...string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range payloads {
		b.lists[queue] = append([]string{p}, b.lists[queue]...)
	}
	return nil
}

// popTail removes and returns the oldest element; caller holds the lock.
func (b *Memory) popTail(queue string) (string, bool) {
	list := b.lists[queue]
	if len(list) == 0 {
		return "", false
	}
	payload := list[len(list)-1]
	b.lists[queue] = list[:len(list)-1]
	return payload, true
}

func (b *Memory) PopBlocking(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	for {
		b.mu.Lock()
		payload, ok := b.popTail(queue)
		b.mu.Unlock()
		if ok {
			return payload, nil
		}

		if time.Now().After(deadline) {
			return "", nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (b *Memory) RemoveFromList(ctx context.Context, queue string, payload string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var kept []string
	var removed int64
	for _, item := range b.lists[queue] {
		if item == payload {
			removed++
			continue
		}
		kept = append(kept, item)
	}
	b.lists[queue] = kept
	return removed, nil
}

func (b *Memory) ListLen(ctx context.Context, queue string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.lists[queue])), nil
}

func (b *Memory) ListRange(ctx context.Context, queue string, start, stop int64) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.lists[queue]
	n := int64(len(list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || n == 0 {
		return []string{}, nil
	}

	out := make([]string, 0, stop-start+1)
	out = append(out, list[start:stop+1]...)
	return out, nil
}

func (b *Memory) ListTrim(ctx context.Context, queue string, start, stop int64) error {
	kept, err := b.ListRange(ctx, queue, start, stop)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lists[queue] = kept
	return nil
}

func (b *Memory) ZAdd(ctx context.Context, set string, member string, score float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.zsets[set] == nil {
		b.zsets[set] = make(map[string]float64)
	}
	b.zsets[set][member] = score
	return nil
}

func (b *Memory) ZRangeByScore(ctx context.Context, set string, min, max float64) ([]interfaces.ZMember, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var members []interfaces.ZMember
	for member, score := range b.zsets[set] {
		if score >= min && score <= max {
			members = append(members, interfaces.ZMember{Member: member, Score: score})
		}
	}
	// Score ascending, ties broken by member for stability within a sweep
	sort.Slice(members, func(i, j int) bool {
		if members[i].Score != members[j].Score {
			return members[i].Score < members[j].Score
		}
		return members[i].Member < members[j].Member
	})
	return members, nil
}

func (b *Memory) ZRemMembers(ctx context.Context, set string, members ...string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var removed int64
	for _, m := range members {
		if _, ok := b.zsets[set][m]; ok {
			delete(b.zsets[set], m)
			removed++
		}
	}
	return removed, nil
}

func (b *Memory) ZCard(ctx context.Context, set string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.zsets[set])), nil
}

func (b *Memory) PromoteScheduled(ctx context.Context, set, queue, member string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.zsets[set], member)
	b.lists[queue] = append([]string{member}, b.lists[queue]...)
	return nil
}

// memorySubscription is one subscriber's view of the pub/sub channels
type memorySubscription struct {
	broker   *Memory
	messages chan string
	once     sync.Once
}

func (s *memorySubscription) Messages() <-chan string {
	return s.messages
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.broker.mu.Lock()
		delete(s.broker.subs, s)
		s.broker.mu.Unlock()
		close(s.messages)
	})
	return nil
}

func (b *Memory) Publish(ctx context.Context, channel string, payload string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub, channels := range b.subs {
		for _, ch := range channels {
			if ch == channel {
				// Best-effort: drop messages for slow subscribers
				select {
				case sub.messages <- payload:
				default:
				}
				break
			}
		}
	}
	return nil
}

func (b *Memory) Subscribe(ctx context.Context, channels ...string) (interfaces.Subscription, error) {
	sub := &memorySubscription{
		broker:   b,
		messages: make(chan string, 64),
	}

	b.mu.Lock()
	b.subs[sub] = channels
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		sub.Close()
	}()

	return sub, nil
}

func (b *Memory) SetFlag(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flags[key] = true
	return nil
}

func (b *Memory) ClearFlag(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.flags, key)
	return nil
}

func (b *Memory) GetFlag(ctx context.Context, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flags[key], nil
}

func (b *Memory) Ping(ctx context.Context) error {
	return nil
}

func (b *Memory) Close() error {
	return nil
}

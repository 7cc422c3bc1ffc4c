package broker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/aranea/internal/common"
	"github.com/ternarybob/aranea/internal/interfaces"
)

// Redis implements the Broker interface on a Redis server. Lists are
// pushed at the head and popped from the tail, so every queue is FIFO
// with destructive single-winner pops.
type Redis struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewRedis creates a broker connected to the configured Redis server
func NewRedis(config *common.RedisConfig, logger arbor.ILogger) *Redis {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &Redis{
		client: client,
		logger: logger,
	}
}

func (b *Redis) Push(ctx context.Context, queue string, payloads ...string) error {
	if len(payloads) == 0 {
		return nil
	}
	values := make([]interface{}, len(payloads))
	for i, p := range payloads {
		values[i] = p
	}
	if err := b.client.LPush(ctx, queue, values...).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", queue, err)
	}
	return nil
}

func (b *Redis) PopBlocking(ctx context.Context, queue string, timeout time.Duration) (string, error) {
	res, err := b.client.BRPop(ctx, timeout, queue).Result()
	if err == redis.Nil {
		return "", nil // Timeout, nothing to pop
	}
	if err != nil {
		return "", fmt.Errorf("failed to pop from %s: %w", queue, err)
	}
	// BRPOP returns [key, value]
	if len(res) != 2 {
		return "", fmt.Errorf("unexpected BRPOP reply length %d from %s", len(res), queue)
	}
	return res[1], nil
}

func (b *Redis) RemoveFromList(ctx context.Context, queue string, payload string) (int64, error) {
	removed, err := b.client.LRem(ctx, queue, 0, payload).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to remove from %s: %w", queue, err)
	}
	return removed, nil
}

func (b *Redis) ListLen(ctx context.Context, queue string) (int64, error) {
	n, err := b.client.LLen(ctx, queue).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read length of %s: %w", queue, err)
	}
	return n, nil
}

func (b *Redis) ListRange(ctx context.Context, queue string, start, stop int64) ([]string, error) {
	items, err := b.client.LRange(ctx, queue, start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range %s: %w", queue, err)
	}
	return items, nil
}

func (b *Redis) ListTrim(ctx context.Context, queue string, start, stop int64) error {
	if err := b.client.LTrim(ctx, queue, start, stop).Err(); err != nil {
		return fmt.Errorf("failed to trim %s: %w", queue, err)
	}
	return nil
}

func (b *Redis) ZAdd(ctx context.Context, set string, member string, score float64) error {
	if err := b.client.ZAdd(ctx, set, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return fmt.Errorf("failed to zadd to %s: %w", set, err)
	}
	return nil
}

func (b *Redis) ZRangeByScore(ctx context.Context, set string, min, max float64) ([]interfaces.ZMember, error) {
	zs, err := b.client.ZRangeByScoreWithScores(ctx, set, &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to range %s by score: %w", set, err)
	}

	members := make([]interfaces.ZMember, 0, len(zs))
	for _, z := range zs {
		member, ok := z.Member.(string)
		if !ok {
			member = fmt.Sprint(z.Member)
		}
		members = append(members, interfaces.ZMember{Member: member, Score: z.Score})
	}
	return members, nil
}

func (b *Redis) ZRemMembers(ctx context.Context, set string, members ...string) (int64, error) {
	if len(members) == 0 {
		return 0, nil
	}
	values := make([]interface{}, len(members))
	for i, m := range members {
		values[i] = m
	}
	removed, err := b.client.ZRem(ctx, set, values...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to zrem from %s: %w", set, err)
	}
	return removed, nil
}

func (b *Redis) ZCard(ctx context.Context, set string) (int64, error) {
	n, err := b.client.ZCard(ctx, set).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read cardinality of %s: %w", set, err)
	}
	return n, nil
}

// PromoteScheduled removes member from the sorted set and pushes it onto
// the queue in one transaction, so no observer sees it in both places.
func (b *Redis) PromoteScheduled(ctx context.Context, set, queue, member string) error {
	pipe := b.client.TxPipeline()
	pipe.ZRem(ctx, set, member)
	pipe.LPush(ctx, queue, member)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to promote scheduled entry: %w", err)
	}
	return nil
}

func (b *Redis) Publish(ctx context.Context, channel string, payload string) error {
	if err := b.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// redisSubscription adapts *redis.PubSub to the Subscription interface
type redisSubscription struct {
	pubsub   *redis.PubSub
	messages chan string
}

func (s *redisSubscription) Messages() <-chan string {
	return s.messages
}

func (s *redisSubscription) Close() error {
	return s.pubsub.Close()
}

func (b *Redis) Subscribe(ctx context.Context, channels ...string) (interfaces.Subscription, error) {
	pubsub := b.client.Subscribe(ctx, channels...)

	// Confirm the subscription before returning so callers never miss
	// messages published immediately after Subscribe.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %v: %w", channels, err)
	}

	sub := &redisSubscription{
		pubsub:   pubsub,
		messages: make(chan string, 64),
	}

	go func() {
		defer close(sub.messages)
		for msg := range pubsub.Channel() {
			select {
			case sub.messages <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()

	return sub, nil
}

func (b *Redis) SetFlag(ctx context.Context, key string) error {
	if err := b.client.Set(ctx, key, "true", 0).Err(); err != nil {
		return fmt.Errorf("failed to set flag %s: %w", key, err)
	}
	return nil
}

func (b *Redis) ClearFlag(ctx context.Context, key string) error {
	if err := b.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to clear flag %s: %w", key, err)
	}
	return nil
}

func (b *Redis) GetFlag(ctx context.Context, key string) (bool, error) {
	val, err := b.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read flag %s: %w", key, err)
	}
	return val == "true", nil
}

func (b *Redis) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *Redis) Close() error {
	return b.client.Close()
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}

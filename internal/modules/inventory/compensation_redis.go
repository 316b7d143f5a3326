package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const compensationQueueKey = "stock:compensation:queue"

// RedisCompensationQueue is a sorted set scored by due time, so pending
// releases survive a process restart.
type RedisCompensationQueue struct {
	client redis.Cmdable
}

func NewRedisCompensationQueue(client redis.Cmdable) *RedisCompensationQueue {
	return &RedisCompensationQueue{client: client}
}

func (q *RedisCompensationQueue) Enqueue(ctx context.Context, item CompensationItem, delay time.Duration) error {
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal compensation item: %w", err)
	}
	return q.client.ZAdd(ctx, compensationQueueKey, redis.Z{
		Score:  float64(time.Now().Add(delay).UnixNano()),
		Member: string(data),
	}).Err()
}

func (q *RedisCompensationQueue) Dequeue(ctx context.Context) (*CompensationItem, error) {
	for {
		now := strconv.FormatInt(time.Now().UnixNano(), 10)
		results, err := q.client.ZRangeByScore(ctx, compensationQueueKey, &redis.ZRangeBy{
			Min:   "-inf",
			Max:   now,
			Count: 1,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read compensation queue: %w", err)
		}
		if len(results) == 0 {
			return nil, nil
		}

		member := results[0]
		// ZRem decides ownership when several reconcilers race for the same
		// item. The loser moves on to the next due member.
		removed, err := q.client.ZRem(ctx, compensationQueueKey, member).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to remove compensation item: %w", err)
		}
		if removed == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			continue
		}

		var item CompensationItem
		if err := json.Unmarshal([]byte(member), &item); err != nil {
			return nil, fmt.Errorf("failed to unmarshal compensation item: %w", err)
		}
		return &item, nil
	}
}

func (q *RedisCompensationQueue) Size(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, compensationQueueKey).Result()
}

package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"hotelpms/internal/config"
	"hotelpms/internal/models"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient builds a client from the redis config section.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisChangeQueue is a FIFO list of change tasks: LPUSH to enqueue, BRPOP to dequeue.
type RedisChangeQueue struct {
	client *redis.Client
	key    string
}

func NewRedisChangeQueue(client *redis.Client, key string) *RedisChangeQueue {
	return &RedisChangeQueue{client: client, key: key}
}

func (q *RedisChangeQueue) Enqueue(ctx context.Context, task models.ChangeTask) error {
	if q.client == nil {
		return fmt.Errorf("redis client is nil")
	}
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal change task: %w", err)
	}
	if err := q.client.LPush(ctx, q.key, data).Err(); err != nil {
		return fmt.Errorf("failed to push change task: %w", err)
	}
	return nil
}

func (q *RedisChangeQueue) Dequeue(ctx context.Context, timeout time.Duration) (*models.ChangeTask, error) {
	if q.client == nil {
		return nil, fmt.Errorf("redis client is nil")
	}
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to pop change task: %w", err)
	}
	if len(res) != 2 {
		return nil, fmt.Errorf("unexpected BRPOP reply of length %d", len(res))
	}

	var task models.ChangeTask
	if err := json.Unmarshal([]byte(res[1]), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal change task: %w", err)
	}
	return &task, nil
}

func (q *RedisChangeQueue) Len(ctx context.Context) (int64, error) {
	if q.client == nil {
		return 0, fmt.Errorf("redis client is nil")
	}
	n, err := q.client.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read change queue length: %w", err)
	}
	return n, nil
}

// RedisDeadLetters keeps the most recent terminally failed queue entries, newest first.
type RedisDeadLetters struct {
	client *redis.Client
	key    string
	maxLen int64
}

func NewRedisDeadLetters(client *redis.Client, key string, maxLen int64) *RedisDeadLetters {
	if maxLen <= 0 {
		maxLen = 1000
	}
	return &RedisDeadLetters{client: client, key: key, maxLen: maxLen}
}

func (d *RedisDeadLetters) Push(ctx context.Context, entry models.QueueEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal dead letter: %w", err)
	}
	pipe := d.client.TxPipeline()
	pipe.LPush(ctx, d.key, data)
	pipe.LTrim(ctx, d.key, 0, d.maxLen-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to push dead letter: %w", err)
	}
	return nil
}

func (d *RedisDeadLetters) List(ctx context.Context, limit int64) ([]models.QueueEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	vals, err := d.client.LRange(ctx, d.key, 0, limit-1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	entries := make([]models.QueueEntry, 0, len(vals))
	for _, v := range vals {
		var e models.QueueEntry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dead letter: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// Ping checks the Redis connection.
func Ping(ctx context.Context, client *redis.Client) error {
	if _, err := client.Ping(ctx).Result(); err != nil {
		return fmt.Errorf("failed to ping Redis: %w", err)
	}
	return nil
}

// Close closes the Redis connection.
func Close(client *redis.Client) error {
	if client != nil {
		return client.Close()
	}
	return nil
}

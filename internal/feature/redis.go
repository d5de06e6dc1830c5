package feature

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisKV is the remote Tier-1 implementation backed by a Redis instance.
// Rows are stored as JSON under "feat:{group}:{entity}" with the configured
// TTL. I/O failures are transient; a corrupt payload is treated as a miss and
// deleted.
type RedisKV struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisKV builds a Tier-1 cache over an existing Redis client.
func NewRedisKV(client *redis.Client, ttl time.Duration) *RedisKV {
	return &RedisKV{client: client, ttl: ttl}
}

func redisKey(key Key) string {
	return fmt.Sprintf("feat:%s:%s", key.Group, key.EntityID)
}

func (r *RedisKV) Get(ctx context.Context, key Key) (Row, bool, error) {
	payload, err := r.client.Get(ctx, redisKey(key)).Bytes()
	if err == redis.Nil {
		return Row{}, false, nil
	}
	if err != nil {
		return Row{}, false, MarkTransient(fmt.Errorf("redis get %s: %w", redisKey(key), err))
	}
	var row Row
	if err := json.Unmarshal(payload, &row); err != nil {
		_ = r.client.Del(ctx, redisKey(key)).Err()
		return Row{}, false, nil
	}
	return row, true, nil
}

func (r *RedisKV) Set(ctx context.Context, row Row) error {
	payload, err := json.Marshal(row)
	if err != nil {
		return fmt.Errorf("encode feature row: %w", err)
	}
	if err := r.client.Set(ctx, redisKey(row.Key), payload, r.ttl).Err(); err != nil {
		return MarkTransient(fmt.Errorf("redis set %s: %w", redisKey(row.Key), err))
	}
	return nil
}

func (r *RedisKV) Del(ctx context.Context, key Key) error {
	if err := r.client.Del(ctx, redisKey(key)).Err(); err != nil {
		return MarkTransient(fmt.Errorf("redis del %s: %w", redisKey(key), err))
	}
	return nil
}

// PredictionLog appends served predictions to a capped Redis stream per
// model, for offline monitoring. Failures are reported, never fatal.
type PredictionLog struct {
	client *redis.Client
}

// NewPredictionLog builds a prediction log over an existing Redis client.
func NewPredictionLog(client *redis.Client) *PredictionLog {
	return &PredictionLog{client: client}
}

// Append records one prediction on the model's stream, trimming it
// approximately to the most recent 10000 entries.
func (p *PredictionLog) Append(ctx context.Context, modelName string, features map[string]any, prediction float64) error {
	encoded, err := json.Marshal(features)
	if err != nil {
		return fmt.Errorf("encode features: %w", err)
	}
	return p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: "predictions:" + modelName,
		MaxLen: 10000,
		Approx: true,
		Values: map[string]any{
			"model_name": modelName,
			"features":   string(encoded),
			"prediction": prediction,
			"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
		},
	}).Err()
}

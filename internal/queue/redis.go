package queue

import (
	"context"
	"errors"
	"fmt"

	"supportdesk/backend/internal/language"

	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "support:queue:"

// enqueueScript appends ARGV[1] unless it is already in the list and returns its
// 1-based position. Running it as a script keeps the check and the push atomic.
var enqueueScript = redis.NewScript(`
local pos = redis.call('LPOS', KEYS[1], ARGV[1])
if pos then
	return pos + 1
end
return redis.call('RPUSH', KEYS[1], ARGV[1])
`)

// Redis is a Manager backed by one Redis list per language, so several bot
// replicas can share the waiting queues.
type Redis struct {
	client *redis.Client
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client) *Redis {
	return &Redis{client: client}
}

var _ Manager = (*Redis)(nil)

func key(lang language.Language) string { return redisKeyPrefix + string(lang) }

func (r *Redis) Enqueue(ctx context.Context, lang language.Language, userID string) (int, error) {
	pos, err := enqueueScript.Run(ctx, r.client, []string{key(lang)}, userID).Int()
	if err != nil {
		return 0, fmt.Errorf("queue: enqueue %s: %w", lang, err)
	}
	return pos, nil
}

func (r *Redis) Dequeue(ctx context.Context, lang language.Language) (string, bool, error) {
	id, err := r.client.LPop(ctx, key(lang)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queue: dequeue %s: %w", lang, err)
	}
	return id, true, nil
}

func (r *Redis) Contains(ctx context.Context, lang language.Language, userID string) (bool, error) {
	pos, err := r.Position(ctx, lang, userID)
	return pos > 0, err
}

func (r *Redis) Position(ctx context.Context, lang language.Language, userID string) (int, error) {
	idx, err := r.client.LPos(ctx, key(lang), userID, redis.LPosArgs{}).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("queue: position %s: %w", lang, err)
	}
	return int(idx) + 1, nil
}

func (r *Redis) Remove(ctx context.Context, lang language.Language, userID string) (bool, error) {
	n, err := r.client.LRem(ctx, key(lang), 0, userID).Result()
	if err != nil {
		return false, fmt.Errorf("queue: remove %s: %w", lang, err)
	}
	return n > 0, nil
}

func (r *Redis) Len(ctx context.Context, lang language.Language) (int, error) {
	n, err := r.client.LLen(ctx, key(lang)).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: len %s: %w", lang, err)
	}
	return int(n), nil
}

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/npezzotti/go-chatsync/internal/types"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "presence:updates"

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	// Channel receives a JSON PresenceChanged for every mirrored update.
	Channel string
}

// RedisPresence mirrors the presence current-value table into Redis.
//
// presence:user:{user_id}   HASH
//   - state: online | offline | hidden
//   - last_seen_at: unix milliseconds, absent if never seen
type RedisPresence struct {
	client  *redis.Client
	channel string
}

func NewRedisPresence(ctx context.Context, cfg RedisConfig) (*RedisPresence, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}

	return &RedisPresence{client: client, channel: channel}, nil
}

func userKey(userId string) string {
	return fmt.Sprintf("presence:user:%s", userId)
}

func presenceFields(state types.PresenceState, lastSeenAt *time.Time) map[string]any {
	fields := map[string]any{"state": string(state)}
	if lastSeenAt != nil {
		fields["last_seen_at"] = strconv.FormatInt(lastSeenAt.UnixMilli(), 10)
	}
	return fields
}

func (r *RedisPresence) SetPresence(ctx context.Context, userId string, state types.PresenceState, lastSeenAt *time.Time) error {
	payload, err := json.Marshal(types.PresenceChanged{
		UserId:     userId,
		NewState:   state,
		LastSeenAt: lastSeenAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal presence: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, userKey(userId), presenceFields(state, lastSeenAt))
	pipe.Publish(ctx, r.channel, payload)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *RedisPresence) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisPresence) Close() error {
	return r.client.Close()
}

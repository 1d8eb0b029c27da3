package chat

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Presence mirrors who is registered on each ticket into a shared
// store so other processes (the admin dashboard, mainly) can see it.
// It is strictly best-effort: the registry remains the source of truth
// for delivery, and presence failures never affect a session.
type Presence interface {
	Join(ctx context.Context, ticketID, userID int64)
	Leave(ctx context.Context, ticketID, userID int64)
}

// RedisPresence keeps one set per ticket in Redis.
type RedisPresence struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisPresence builds a presence mirror; a nil client yields a
// no-op implementation.
func NewRedisPresence(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisPresence {
	return &RedisPresence{client: client, ttl: ttl, logger: logger}
}

func presenceKey(ticketID int64) string {
	return "chat:presence:" + strconv.FormatInt(ticketID, 10)
}

// Join records the participant.
func (p *RedisPresence) Join(ctx context.Context, ticketID, userID int64) {
	if p == nil || p.client == nil {
		return
	}
	key := presenceKey(ticketID)
	pipe := p.client.Pipeline()
	pipe.SAdd(ctx, key, userID)
	pipe.Expire(ctx, key, p.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		p.logger.Warn("presence join failed", zap.Error(err), zap.Int64("ticket_id", ticketID))
	}
}

// Leave removes the participant.
func (p *RedisPresence) Leave(ctx context.Context, ticketID, userID int64) {
	if p == nil || p.client == nil {
		return
	}
	if err := p.client.SRem(ctx, presenceKey(ticketID), userID).Err(); err != nil {
		p.logger.Warn("presence leave failed", zap.Error(err), zap.Int64("ticket_id", ticketID))
	}
}

package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/artemuse/gallery-backend/internal/logger"
	"github.com/artemuse/gallery-backend/internal/types"
	"github.com/artemuse/gallery-backend/internal/utils"
)

// StateCache holds the last rendered aggregate view per user so repeat reads
// skip the database. Every mutation invalidates the entry; the database row
// stays the source of truth.
type StateCache interface {
	GetView(ctx context.Context, userID uuid.UUID) (*types.UserStateView, bool)
	SetView(ctx context.Context, userID uuid.UUID, view *types.UserStateView)
	Invalidate(ctx context.Context, userID uuid.UUID)
}

type redisStateCache struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewStateCache(log *logger.Logger) (StateCache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}

	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	ttlSeconds := utils.GetEnvAsInt("STATE_CACHE_TTL", 60, log)

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisStateCache{
		log: log.With("service", "StateCache"),
		rdb: rdb,
		ttl: time.Duration(ttlSeconds) * time.Second,
	}, nil
}

func cacheKey(userID uuid.UUID) string {
	return "user_state:" + userID.String()
}

func (sc *redisStateCache) GetView(ctx context.Context, userID uuid.UUID) (*types.UserStateView, bool) {
	raw, err := sc.rdb.Get(ctx, cacheKey(userID)).Bytes()
	if err != nil {
		if err != goredis.Nil {
			sc.log.Warn("State cache read failed", "error", err, "user_id", userID)
		}
		return nil, false
	}
	var view types.UserStateView
	if err := json.Unmarshal(raw, &view); err != nil {
		sc.log.Warn("State cache entry undecodable, dropping", "error", err, "user_id", userID)
		_ = sc.rdb.Del(ctx, cacheKey(userID)).Err()
		return nil, false
	}
	return &view, true
}

func (sc *redisStateCache) SetView(ctx context.Context, userID uuid.UUID, view *types.UserStateView) {
	if view == nil {
		return
	}
	raw, err := json.Marshal(view)
	if err != nil {
		sc.log.Warn("State cache encode failed", "error", err, "user_id", userID)
		return
	}
	if err := sc.rdb.Set(ctx, cacheKey(userID), raw, sc.ttl).Err(); err != nil {
		sc.log.Warn("State cache write failed", "error", err, "user_id", userID)
	}
}

func (sc *redisStateCache) Invalidate(ctx context.Context, userID uuid.UUID) {
	if err := sc.rdb.Del(ctx, cacheKey(userID)).Err(); err != nil {
		sc.log.Warn("State cache invalidation failed", "error", err, "user_id", userID)
	}
}

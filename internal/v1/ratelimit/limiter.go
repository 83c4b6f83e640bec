// Package ratelimit gates websocket connection setup, backed by Redis
// or local memory.
package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	sredis "github.com/ulule/limiter/v3/drivers/store/redis"
	"go.uber.org/zap"

	"github.com/osobh/parley/internal/v1/config"
	"github.com/osobh/parley/internal/v1/logging"
	"github.com/osobh/parley/internal/v1/metrics"
)

// RateLimiter holds the per-IP and per-agent connect limiters.
type RateLimiter struct {
	wsIP    *limiter.Limiter
	wsAgent *limiter.Limiter
	store   limiter.Store
}

// NewRateLimiter parses the configured rates and builds the limiter.
// With a Redis client the limits are shared across nodes; without one a
// local memory store is used.
func NewRateLimiter(cfg *config.Config, redisClient *redis.Client) (*RateLimiter, error) {
	ipRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}
	agentRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsAgent)
	if err != nil {
		return nil, fmt.Errorf("invalid WS agent rate: %w", err)
	}

	var store limiter.Store
	if redisClient != nil {
		s, err := sredis.NewStoreWithOptions(redisClient, limiter.StoreOptions{
			Prefix: "limiter:v1:",
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create redis store: %w", err)
		}
		store = s
		logging.Info(context.Background(), "Rate limiter using Redis store")
	} else {
		store = memory.NewStore()
		logging.Info(context.Background(), "Rate limiter using memory store")
	}

	return &RateLimiter{
		wsIP:    limiter.New(store, ipRate),
		wsAgent: limiter.New(store, agentRate),
		store:   store,
	}, nil
}

// CheckConnection enforces the per-IP connect limit before the upgrade.
// It writes the 429 response itself and returns false when the limit is
// reached. Store failures fail open.
func (rl *RateLimiter) CheckConnection(c *gin.Context) bool {
	ctx := c.Request.Context()
	ip := c.ClientIP()

	ipCtx, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed (IP)", zap.Error(err))
		return true
	}
	if ipCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipCtx.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many connections from this IP"})
		return false
	}
	return true
}

// CheckAgent enforces the per-agent connect limit, keyed by the agent id
// a connection first identifies as. Store failures fail open.
func (rl *RateLimiter) CheckAgent(ctx context.Context, agentID string) error {
	agentCtx, err := rl.wsAgent.Get(ctx, agentID)
	if err != nil {
		logging.Error(ctx, "Rate limiter store failed (agent)", zap.Error(err))
		return nil
	}
	if agentCtx.Reached {
		metrics.RateLimitExceeded.WithLabelValues("agent").Inc()
		return fmt.Errorf("connection rate limit exceeded for agent %s", agentID)
	}
	return nil
}

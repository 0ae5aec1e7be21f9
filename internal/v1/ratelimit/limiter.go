// Package ratelimit throttles WebSocket upgrade attempts per source IP.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/bytetogether/relay/internal/v1/config"
	"github.com/bytetogether/relay/internal/v1/logging"
	"github.com/bytetogether/relay/internal/v1/metrics"
	"github.com/gin-gonic/gin"
	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	"go.uber.org/zap"
)

// Limiter holds the upgrade-path rate limiter. The store is in-process
// memory; the relay is a single-instance service.
type Limiter struct {
	wsIP  *limiter.Limiter
	store limiter.Store
}

// NewLimiter creates a Limiter from the configured rate string
// (ulule formatted rate, e.g. "100-M").
func NewLimiter(cfg *config.Config) (*Limiter, error) {
	wsIPRate, err := limiter.NewRateFromFormatted(cfg.RateLimitWsIP)
	if err != nil {
		return nil, fmt.Errorf("invalid WS IP rate: %w", err)
	}

	store := memory.NewStore()

	return &Limiter{
		wsIP:  limiter.New(store, wsIPRate),
		store: store,
	}, nil
}

// CheckWebSocket checks whether an upgrade attempt from this IP is allowed.
// Returns true if allowed, false if the limit is exceeded (and the 429
// response has been written). Store failures fail open.
func (rl *Limiter) CheckWebSocket(c *gin.Context) bool {
	ctx := c.Request.Context()

	ip := c.ClientIP()
	ipContext, err := rl.wsIP.Get(ctx, ip)
	if err != nil {
		logging.Error(ctx, "WS Rate limiter store failed (IP)", zap.Error(err))
		return true // Fail open
	}

	if ipContext.Reached {
		metrics.RateLimitExceeded.WithLabelValues("websocket_connect", "ip").Inc()
		c.Header("X-RateLimit-Retry-After", strconv.FormatInt(ipContext.Reset, 10))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many connections from this IP"})
		return false
	}

	metrics.RateLimitRequests.WithLabelValues("websocket_connect").Inc()
	return true
}

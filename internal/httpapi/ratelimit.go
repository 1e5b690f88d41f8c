package httpapi

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultRateCapacity       = 60
	defaultRateRefillTokens   = 1
	defaultRateRefillInterval = time.Second
	defaultRatePrefix         = "popupshop:rl"
)

// tokenBucketScript refills and takes one token atomically.
// It returns {allowed, remaining tokens, retry-after in milliseconds}.
var tokenBucketScript = redis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local capacity = tonumber(ARGV[2])
local refill_tokens = tonumber(ARGV[3])
local interval_ms = tonumber(ARGV[4])
local ttl_seconds = tonumber(ARGV[5])

local state = redis.call('HMGET', key, 'tokens', 'last_refill_ms')
local tokens = tonumber(state[1])
local last_refill = tonumber(state[2])
if tokens == nil or last_refill == nil then
	tokens = capacity
	last_refill = now_ms
end

if interval_ms > 0 and refill_tokens > 0 then
	local elapsed = math.max(0, now_ms - last_refill)
	local intervals = math.floor(elapsed / interval_ms)
	if intervals > 0 then
		tokens = math.min(capacity, tokens + (intervals * refill_tokens))
		last_refill = last_refill + (intervals * interval_ms)
	end
end

local allowed = 0
local retry_after_ms = 0
if tokens > 0 then
	allowed = 1
	tokens = tokens - 1
else
	retry_after_ms = math.max(0, interval_ms - (now_ms - last_refill))
end

redis.call('HMSET', key, 'tokens', tokens, 'last_refill_ms', last_refill)
redis.call('EXPIRE', key, ttl_seconds)
return { allowed, tokens, retry_after_ms }
`)

// RateLimitConfig tunes the per-client token bucket.
type RateLimitConfig struct {
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
}

// RateLimiter throttles API calls per client address and route using a token
// bucket kept in Redis. Redis failures let the request through.
type RateLimiter struct {
	client redis.Scripter
	config RateLimitConfig
	logger *zap.Logger
	now    func() time.Time
}

// NewRateLimiter normalizes config and binds it to client.
func NewRateLimiter(client redis.Scripter, config RateLimitConfig, logger *zap.Logger) (*RateLimiter, error) {
	if client == nil {
		return nil, fmt.Errorf("rate limiter requires a redis client")
	}
	if config.Capacity <= 0 {
		config.Capacity = defaultRateCapacity
	}
	if config.RefillTokens <= 0 {
		config.RefillTokens = defaultRateRefillTokens
	}
	if config.RefillInterval <= 0 {
		config.RefillInterval = defaultRateRefillInterval
	}
	if minimumTTL := 5 * config.RefillInterval; config.TTL < minimumTTL {
		config.TTL = minimumTTL
	}
	if strings.TrimSpace(config.Prefix) == "" {
		config.Prefix = defaultRatePrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimiter{client: client, config: config, logger: logger, now: time.Now}, nil
}

// Middleware returns the gin handler enforcing the bucket.
func (limiter *RateLimiter) Middleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		key := limiter.bucketKey(ctx)
		ttlSeconds := int64(math.Ceil(limiter.config.TTL.Seconds()))
		result, err := tokenBucketScript.Run(ctx.Request.Context(), limiter.client, []string{key},
			limiter.now().UnixMilli(),
			limiter.config.Capacity,
			limiter.config.RefillTokens,
			limiter.config.RefillInterval.Milliseconds(),
			ttlSeconds,
		).Int64Slice()
		if err != nil || len(result) != 3 {
			limiter.logger.Warn("rate limiter unavailable", zap.String("key", key), zap.Error(err))
			ctx.Next()
			return
		}
		allowed, remaining, retryAfterMillis := result[0] == 1, result[1], result[2]

		ctx.Header("X-RateLimit-Limit", strconv.Itoa(limiter.config.Capacity))
		ctx.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		if !allowed {
			retrySeconds := int64(math.Ceil(float64(retryAfterMillis) / 1000))
			ctx.Header("Retry-After", strconv.FormatInt(retrySeconds, 10))
			ctx.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse(codeRateLimited, "rate limit exceeded"))
			return
		}
		ctx.Next()
	}
}

func (limiter *RateLimiter) bucketKey(ctx *gin.Context) string {
	clientIP := ctx.ClientIP()
	if clientIP == "" {
		clientIP = "unknown"
	}
	route := ctx.FullPath()
	if route == "" {
		route = "unmatched"
	}
	return strings.Join([]string{limiter.config.Prefix, clientIP, ctx.Request.Method, route}, ":")
}

package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/streamrelay/relay-server-go/internal/audit"
	"github.com/streamrelay/relay-server-go/internal/config"
	apperrors "github.com/streamrelay/relay-server-go/internal/errors"
	"github.com/streamrelay/relay-server-go/internal/metrics"
	"github.com/streamrelay/relay-server-go/internal/redis"
)

const rateLimitWindow = 60 * time.Second

var rateLimitScript = goredis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])

local windowStart = now - window

redis.call('ZREMRANGEBYSCORE', key, '-inf', windowStart)

local count = redis.call('ZCARD', key)

if count >= limit then
    local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
    local resetAt = 0
    if #oldest >= 2 then
        resetAt = tonumber(oldest[2]) + window
    else
        resetAt = now + window
    end
    return {0, 0, resetAt}
end

redis.call('ZADD', key, now, now .. '-' .. math.random())
redis.call('EXPIRE', key, window + 10)

local remaining = limit - count - 1
local resetAt = now + window

return {1, remaining, resetAt}
`)

type RedisRateLimiter struct {
	client *redis.Client
}

func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

// Check records one hit for connectionID. Redis failures allow the request.
func (rl *RedisRateLimiter) Check(ctx context.Context, connectionID string, limit int) (allowed bool, remaining int, resetAt int64) {
	now := time.Now().Unix()
	key := redis.CallbackRateKey(connectionID)

	result, err := rateLimitScript.Run(ctx, rl.client, []string{key}, now, int64(rateLimitWindow.Seconds()), limit).Int64Slice()
	if err != nil {
		log.Warn().Err(err).Str("connectionId", connectionID).Msg("redis rate limit check failed, allowing request")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	if len(result) != 3 {
		log.Warn().Str("connectionId", connectionID).Msg("unexpected redis rate limit result")
		return true, limit - 1, now + int64(rateLimitWindow.Seconds())
	}

	return result[0] == 1, int(result[1]), result[2]
}

// CallbackRateLimitMiddleware caps hub deliveries per connection id. Verification challenges
// are never limited so a subscription can always be confirmed.
type CallbackRateLimitMiddleware struct {
	limiter *RedisRateLimiter
	limit   int
}

func NewCallbackRateLimitMiddleware(client *redis.Client, limitPerMin int) *CallbackRateLimitMiddleware {
	if limitPerMin <= 0 {
		limitPerMin = config.DefaultCallbackRateLimitPerMin
	}
	return &CallbackRateLimitMiddleware{
		limiter: NewRedisRateLimiter(client),
		limit:   limitPerMin,
	}
}

func (m *CallbackRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		connectionID := chi.URLParam(r, "connectionID")
		if _, challenge := r.URL.Query()["hub.challenge"]; challenge || connectionID == "" {
			next.ServeHTTP(w, r)
			return
		}

		allowed, remaining, resetAt := m.limiter.Check(r.Context(), connectionID, m.limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			metrics.CallbacksTotal.WithLabelValues(metrics.CallbackLimited).Inc()
			audit.LogFromRequest(r, audit.Event{
				Type:         audit.EventRateLimitExceed,
				ConnectionID: connectionID,
			})
			w.Header().Set("Retry-After", "60")
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}

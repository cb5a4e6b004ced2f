package httpapi

import (
	"crypto/subtle"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/time/rate"
)

const apiKeyHeader = "X-API-Key"

// requireAPIKey rejects requests without the configured key, nothing is
// checked when no key is configured.
func (a *API) requireAPIKey() gin.HandlerFunc {
	expected := []byte(a.config.APIKey)
	return func(c *gin.Context) {
		if len(expected) == 0 {
			c.Next()
			return
		}
		provided := c.GetHeader(apiKeyHeader)
		if provided == "" {
			fail(c, http.StatusUnauthorized, "missing api key")
			return
		}
		if subtle.ConstantTimeCompare([]byte(provided), expected) != 1 {
			fail(c, http.StatusForbidden, "invalid api key")
			return
		}
		c.Next()
	}
}

// clientLimiter gives every client ip its own token bucket of the window's
// size refilling over the window.
type clientLimiter struct {
	// mutex makes the lookup and insert of a new client one step.
	mutex    sync.Mutex
	limiters *expirable.LRU[string, *rate.Limiter]
	limit    rate.Limit
	burst    int
}

func newClientLimiter(config RateLimitConfig) *clientLimiter {
	window := time.Duration(config.WindowSeconds) * time.Second
	return &clientLimiter{
		limiters: expirable.NewLRU[string, *rate.Limiter](config.Clients, nil, window),
		limit:    rate.Every(window / time.Duration(config.Requests)),
		burst:    config.Requests,
	}
}

func (l *clientLimiter) get(client string) *rate.Limiter {
	l.mutex.Lock()
	defer l.mutex.Unlock()

	limiter, ok := l.limiters.Get(client)
	if ok {
		return limiter
	}
	limiter = rate.NewLimiter(l.limit, l.burst)
	l.limiters.Add(client, limiter)
	return limiter
}

func (l *clientLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.get(c.ClientIP()).Allow() {
			fail(c, http.StatusTooManyRequests, "too many requests, please try again later")
			return
		}
		c.Next()
	}
}

package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// Per-IP request budget and how long an idle client keeps its limiter.
const (
	limiterRate    = 20
	limiterBurst   = 50
	limiterIdleTTL = 5 * time.Minute
)

type ipLimiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipLimiterPool hands out one token bucket per client IP. Entries idle past
// limiterIdleTTL are swept out on the next lookup, active ones keep their
// bucket state.
type ipLimiterPool struct {
	mu        sync.Mutex
	entries   map[string]*ipLimiterEntry
	nextSweep time.Time

	now func() time.Time
}

func newIPLimiterPool() *ipLimiterPool {
	return &ipLimiterPool{entries: make(map[string]*ipLimiterEntry), now: time.Now}
}

func (p *ipLimiterPool) get(ip string) *rate.Limiter {
	now := p.now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if now.After(p.nextSweep) {
		for addr, e := range p.entries {
			if now.Sub(e.lastSeen) > limiterIdleTTL {
				delete(p.entries, addr)
			}
		}
		p.nextSweep = now.Add(limiterIdleTTL)
	}
	e, ok := p.entries[ip]
	if !ok {
		e = &ipLimiterEntry{limiter: rate.NewLimiter(limiterRate, limiterBurst)}
		p.entries[ip] = e
	}
	e.lastSeen = now
	return e.limiter
}

// RateLimit throttles requests per client IP.
func RateLimit() gin.HandlerFunc {
	pool := newIPLimiterPool()
	return func(c *gin.Context) {
		if !pool.get(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// CORS allows browser clients from any origin.
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// RequestID tags each request with a correlation id, honoring one supplied by
// the client.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// Timeout caps handling time for one request. The handler keeps running in
// its goroutine after a timeout response; the deadline on the request context
// tells it to stop.
func Timeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)

		done := make(chan struct{})
		panicked := make(chan any, 1)
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			c.Next()
			close(done)
		}()

		select {
		case <-done:
		case <-panicked:
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		case <-ctx.Done():
			c.AbortWithStatusJSON(http.StatusRequestTimeout, gin.H{"error": "request timed out"})
		}
	}
}

// RequestLogger logs every request with timing and status.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		log.Debug().
			Str("request_id", c.GetString("request_id")).
			Str("method", method).
			Str("path", path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("request")
	}
}

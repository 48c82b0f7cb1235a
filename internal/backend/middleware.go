package backend

import (
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"
)

// Response headers set by the middleware
const (
	RequestIDHeader   = "X-Request-ID"
	ProcessTimeHeader = "X-Process-Time"
	requestIDKey      = "request_id"
)

// RequestLogger tags each request with a short ID, logs it, and turns panics
// into a JSON 500 that carries the ID.
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestID := uuid.NewString()[:8]
		c.Set(requestIDKey, requestID)
		c.Header(RequestIDHeader, requestID)

		logger.Info("request",
			"request_id", requestID,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"client", c.ClientIP())

		defer func() {
			if r := recover(); r != nil {
				logger.Error("request panicked",
					"request_id", requestID,
					"panic", r,
					"duration", time.Since(start))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":      "Internal server error",
					"request_id": requestID,
				})
			}
		}()

		c.Next()

		latency := time.Since(start)
		attrs := []any{
			"request_id", requestID,
			"status", c.Writer.Status(),
			"duration", latency,
		}
		if len(c.Errors) > 0 {
			attrs = append(attrs, "errors", c.Errors.String())
		}
		logger.Info("response", attrs...)
	}
}

// processTime records handler latency on the response. Handlers call it just
// before writing the body.
func processTime(c *gin.Context, start time.Time) {
	c.Header(ProcessTimeHeader, fmt.Sprintf("%.4f", time.Since(start).Seconds()))
}

// SecurityHeaders adds the standard hardening headers
func SecurityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-XSS-Protection", "1; mode=block")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	}
}

// BodyLimit caps request bodies at n bytes
func BodyLimit(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Body != nil {
			c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		}
		c.Next()
	}
}

// rateLimitClients bounds how many client buckets RateLimit tracks
const rateLimitClients = 4096

// RateLimit allows each client IP perMinute requests per minute, with bursts
// up to perMinute. Excess requests get 429. perMinute <= 0 disables limiting.
func RateLimit(perMinute int) gin.HandlerFunc {
	if perMinute <= 0 {
		return func(c *gin.Context) { c.Next() }
	}
	// least recently seen clients are forgotten and start with a full bucket
	clients, _ := lru.New[string, *rate.Limiter](rateLimitClients)
	var mu sync.Mutex
	limiterFor := func(ip string) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if l, ok := clients.Get(ip); ok {
			return l
		}
		l := rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
		clients.Add(ip, l)
		return l
	}

	return func(c *gin.Context) {
		if !limiterFor(c.ClientIP()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "Rate limit exceeded",
				"detail":     fmt.Sprintf("Maximum %d requests per minute", perMinute),
				"request_id": requestID(c),
			})
			return
		}
		c.Next()
	}
}

// requestID returns the ID assigned by RequestLogger
func requestID(c *gin.Context) string {
	return c.GetString(requestIDKey)
}

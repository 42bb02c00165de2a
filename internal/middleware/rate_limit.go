package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/computor-org/computor-realtime/internal/realtime"
)

// RateLimiter throttles WebSocket handshakes and the revocation endpoints
// with per-key token buckets. State is per process; each instance protects
// itself.
type RateLimiter struct {
	mu         sync.RWMutex
	limits     map[string]*RateLimitConfig
	defaultCfg *RateLimitConfig
	buckets    map[string]*tokenBucket

	stop chan struct{}
}

type tokenBucket struct {
	mu         sync.Mutex
	tokens     int
	maxTokens  int
	lastRefill time.Time
}

// RateLimitConfig defines one limit: Requests per Window, keyed by KeyFunc.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	KeyFunc  func(*gin.Context) string
}

// RateLimitResult is the outcome of a single limit check.
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	ResetTime  time.Time
	RetryAfter int
}

func NewRateLimiter() *RateLimiter {
	return NewRateLimiterWithConfig(&RateLimitConfig{
		Requests: 60,
		Window:   time.Minute,
		KeyFunc:  ByClientIP,
	})
}

func NewRateLimiterWithConfig(defaultConfig *RateLimitConfig) *RateLimiter {
	rl := &RateLimiter{
		limits:     make(map[string]*RateLimitConfig),
		buckets:    make(map[string]*tokenBucket),
		defaultCfg: defaultConfig,
		stop:       make(chan struct{}),
	}
	if rl.defaultCfg.KeyFunc == nil {
		rl.defaultCfg.KeyFunc = ByClientIP
	}

	go rl.cleanupExpiredBuckets()
	return rl
}

// Close stops the background bucket cleanup.
func (rl *RateLimiter) Close() {
	select {
	case <-rl.stop:
	default:
		close(rl.stop)
	}
}

func (rl *RateLimiter) cleanupExpiredBuckets() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.mu.Lock()
			now := time.Now()
			for key, bucket := range rl.buckets {
				bucket.mu.Lock()
				if now.Sub(bucket.lastRefill) > 10*time.Minute {
					delete(rl.buckets, key)
				}
				bucket.mu.Unlock()
			}
			rl.mu.Unlock()
		}
	}
}

// AddLimit sets a limit for one path, overriding the default.
func (rl *RateLimiter) AddLimit(path string, config *RateLimitConfig) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.limits[path] = config
}

// Middleware enforces the configured limits. A failed check answers 429 with
// rate limit headers; internal errors fail open.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		config := rl.getConfig(c.Request.URL.Path)
		key := config.KeyFunc(c)

		result := rl.checkLimit(key, config)

		c.Header("X-RateLimit-Limit", strconv.Itoa(config.Requests))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetTime.Unix(), 10))

		if !result.Allowed {
			c.Header("Retry-After", strconv.Itoa(result.RetryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": result.RetryAfter,
			})
			return
		}

		c.Next()
	}
}

func (rl *RateLimiter) checkLimit(key string, config *RateLimitConfig) *RateLimitResult {
	bucket := rl.getOrCreateBucket(key, config)

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := time.Now()

	elapsed := now.Sub(bucket.lastRefill)
	tokensToAdd := int(elapsed / config.Window * time.Duration(config.Requests))
	if tokensToAdd > 0 {
		bucket.tokens = min(bucket.maxTokens, bucket.tokens+tokensToAdd)
		bucket.lastRefill = now
	}

	allowed := bucket.tokens > 0
	if allowed {
		bucket.tokens--
	}

	var retryAfter int
	if !allowed {
		retryAfter = int(config.Window.Seconds() / float64(config.Requests))
		if retryAfter < 1 {
			retryAfter = 1
		}
	}

	return &RateLimitResult{
		Allowed:    allowed,
		Remaining:  bucket.tokens,
		ResetTime:  now.Add(config.Window),
		RetryAfter: retryAfter,
	}
}

func (rl *RateLimiter) getOrCreateBucket(key string, config *RateLimitConfig) *tokenBucket {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if bucket, exists := rl.buckets[key]; exists {
		return bucket
	}

	bucket := &tokenBucket{
		tokens:     config.Requests,
		maxTokens:  config.Requests,
		lastRefill: time.Now(),
	}
	rl.buckets[key] = bucket
	return bucket
}

func (rl *RateLimiter) getConfig(path string) *RateLimitConfig {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	if config, exists := rl.limits[path]; exists {
		return config
	}
	return rl.defaultCfg
}

// ByClientIP keys limits on the client address.
func ByClientIP(c *gin.Context) string {
	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}

// ByUserID keys limits on the authenticated user, falling back to the client
// address before auth has run.
func ByUserID(c *gin.Context) string {
	if value, exists := c.Get(ContextPrincipal); exists {
		if p, ok := value.(realtime.Principal); ok && p.UserID != "" {
			return "user:" + p.UserID
		}
	}
	return ByClientIP(c)
}

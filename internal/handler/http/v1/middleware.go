package v1

import (
	mathrand "math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/shenikar/crowd_report_trust/internal/audit"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	requestIDHeader  = "X-Request-ID"
	deviceHashHeader = "X-Device-Hash"
	maxRequestIDLen  = 64
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

func newRequestID() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// RequestIDMiddleware присваивает запросу id и кладет его в контекст для журнала решений
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if id == "" || len(id) > maxRequestIDLen {
			id = newRequestID()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(audit.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

// DeviceRateLimiter - token bucket на каждый отпечаток устройства
type DeviceRateLimiter struct {
	mu          sync.Mutex
	buckets     map[string]*bucket
	limit       rate.Limit
	burst       int
	ttl         time.Duration
	lastCleanup time.Time
	now         func() time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewDeviceRateLimiter создает лимитер на perMinute отчетов в минуту с запасом burst.
// perMinute <= 0 отключает ограничение.
func NewDeviceRateLimiter(perMinute, burst int) *DeviceRateLimiter {
	if burst <= 0 {
		burst = 1
	}
	l := rate.Inf
	if perMinute > 0 {
		l = rate.Limit(float64(perMinute) / 60.0)
	}
	return &DeviceRateLimiter{
		buckets: make(map[string]*bucket),
		limit:   l,
		burst:   burst,
		ttl:     10 * time.Minute,
		now:     time.Now,
	}
}

// Allow расходует токен устройства
func (l *DeviceRateLimiter) Allow(device string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastCleanup) > time.Minute {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > l.ttl {
				delete(l.buckets, k)
			}
		}
		l.lastCleanup = now
	}

	b, ok := l.buckets[device]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[device] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// Middleware ограничивает частоту отчетов по заголовку X-Device-Hash.
// Запросы без заголовка пропускаются: их отклонит валидация.
func (l *DeviceRateLimiter) Middleware(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		device := strings.TrimSpace(c.GetHeader(deviceHashHeader))
		if device != "" && !l.Allow(device) {
			log.WithField("method", "rateLimit").Warn("Device rate limit exceeded")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

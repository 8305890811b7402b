package rate

import (
	"sync"
	"sync/atomic"
	"time"

	xrate "golang.org/x/time/rate"
)

const (
	DefaultCapacity     = 30
	DefaultRefillTokens = 30
	DefaultRefillPeriod = time.Minute
)

// Config holds bucket sizing. Zero fields take the defaults.
type Config struct {
	Capacity     int
	RefillTokens int
	RefillPeriod time.Duration
	Now          func() time.Time
}

// Limiter owns the key to bucket map.
type Limiter struct {
	config  Config
	limit   xrate.Limit
	now     func() time.Time
	buckets sync.Map // string -> *xrate.Limiter
	size    atomic.Int64
}

// New returns a Limiter with defaults filled in.
func New(cfg Config) *Limiter {
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultCapacity
	}
	if cfg.RefillTokens <= 0 {
		cfg.RefillTokens = DefaultRefillTokens
	}
	if cfg.RefillPeriod <= 0 {
		cfg.RefillPeriod = DefaultRefillPeriod
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		config: cfg,
		limit:  xrate.Every(cfg.RefillPeriod / time.Duration(cfg.RefillTokens)),
		now:    now,
	}
}

// TryConsume takes cost tokens from the bucket for key. It returns false,
// leaving the bucket untouched, when not enough tokens are available.
func (l *Limiter) TryConsume(key string, cost int) bool {
	if cost <= 0 {
		cost = 1
	}
	return l.bucket(key).AllowN(l.now(), cost)
}

// RetryAfter estimates how long key must wait before cost tokens are
// available. It does not consume anything.
func (l *Limiter) RetryAfter(key string, cost int) time.Duration {
	if cost <= 0 {
		cost = 1
	}
	now := l.now()
	r := l.bucket(key).ReserveN(now, cost)
	if !r.OK() {
		return l.config.RefillPeriod
	}
	delay := r.DelayFrom(now)
	r.CancelAt(now)
	return delay
}

// Len reports how many buckets exist. Buckets are never evicted.
func (l *Limiter) Len() int {
	return int(l.size.Load())
}

func (l *Limiter) bucket(key string) *xrate.Limiter {
	if b, ok := l.buckets.Load(key); ok {
		return b.(*xrate.Limiter)
	}
	fresh := xrate.NewLimiter(l.limit, l.config.Capacity)
	b, loaded := l.buckets.LoadOrStore(key, fresh)
	if !loaded {
		l.size.Add(1)
	}
	return b.(*xrate.Limiter)
}

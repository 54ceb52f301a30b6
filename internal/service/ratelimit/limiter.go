package ratelimit

import (
	"sync"
	"time"

	"AmberPull/pkg/logger"
)

const (
	DefaultInitialBackoff = 10 * time.Second
	DefaultMaxBackoff     = 300 * time.Second

	// resetBuffer pads a server-provided reset hint.
	resetBuffer = 2 * time.Second
)

// Limiter tracks 429 backoff. A success clears it; consecutive limit events
// without a reset hint double the wait up to the cap.
type Limiter struct {
	mu      sync.Mutex
	now     func() time.Time
	initial time.Duration
	max     time.Duration
	log     *logger.Logger

	backoff time.Duration
	until   time.Time
}

type Option func(*Limiter)

func WithBackoff(initial, ceiling time.Duration) Option {
	return func(l *Limiter) {
		if initial > 0 {
			l.initial = initial
		}
		if ceiling >= l.initial {
			l.max = ceiling
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.now = now
		}
	}
}

func WithLogger(log *logger.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

func New(opts ...Option) *Limiter {
	l := &Limiter{
		now:     time.Now,
		initial: DefaultInitialBackoff,
		max:     DefaultMaxBackoff,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.log = logger.OrNop(l.log)
	return l
}

// RecordSuccess clears any backoff.
func (l *Limiter) RecordSuccess() {
	l.mu.Lock()
	l.backoff = 0
	l.until = time.Time{}
	l.mu.Unlock()
}

// RecordRateLimit starts or extends backoff and returns when it expires.
// A non-nil resetSeconds is taken from the upstream reset header.
func (l *Limiter) RecordRateLimit(resetSeconds *int) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	switch {
	case resetSeconds != nil:
		l.backoff = time.Duration(max(0, *resetSeconds))*time.Second + resetBuffer
		l.log.Warn("rate limited, waiting for reset", logger.Duration("backoff_ms", l.backoff))
	case l.backoff == 0:
		l.backoff = l.initial
		l.log.Warn("rate limited, backing off", logger.Duration("backoff_ms", l.backoff))
	default:
		l.backoff = min(2*l.backoff, l.max)
		l.log.Warn("rate limited, backing off (exponential)", logger.Duration("backoff_ms", l.backoff))
	}
	l.until = now.Add(l.backoff)
	return l.until
}

// IsLimited reports whether backoff is still in effect.
func (l *Limiter) IsLimited() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return !l.until.IsZero() && l.now().Before(l.until)
}

// RemainingSeconds is the time left in backoff, zero when clear.
func (l *Limiter) RemainingSeconds() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.until.IsZero() {
		return 0
	}
	return max(0, l.until.Sub(l.now()).Seconds())
}

// CurrentBackoff returns the last backoff duration applied.
func (l *Limiter) CurrentBackoff() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backoff
}

// Until returns when backoff expires, or the zero time when clear.
func (l *Limiter) Until() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.until
}

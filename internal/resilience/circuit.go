// Package resilience guards calls to flaky third-party services.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// State is the position of a Breaker.
type State int

const (
	// Closed lets calls through.
	Closed State = iota
	// Open rejects calls until the cool-down has passed.
	Open
	// HalfOpen lets one probe through to test recovery.
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrOpen is returned when a call is rejected without being attempted.
var ErrOpen = eris.New("resilience: circuit breaker is open")

// BreakerConfig controls a Breaker.
type BreakerConfig struct {
	// Name identifies the guarded service in logs.
	Name string

	// Threshold is the number of consecutive tripping failures that open
	// the breaker. Default: 5.
	Threshold int

	// Cooldown is how long the breaker stays open before a probe.
	// Default: 30s.
	Cooldown time.Duration

	// Trips decides whether an error counts as a failure. Default: ShouldTrip.
	Trips func(err error) bool
}

// Breaker is a consecutive-failure circuit breaker for one service. While
// half-open it admits a single probe; concurrent callers are rejected until
// the probe settles.
type Breaker struct {
	cfg BreakerConfig

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a closed Breaker.
func NewBreaker(cfg BreakerConfig) *Breaker {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.Trips == nil {
		cfg.Trips = ShouldTrip
	}
	return &Breaker{cfg: cfg, now: time.Now}
}

// Call runs fn through the breaker and returns its value, or ErrOpen when the
// call was not attempted.
func Call[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if err := b.admit(); err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.settle(err)
	return val, err
}

// State returns the current position, reporting HalfOpen once an open
// breaker's cool-down has elapsed.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == Open && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return HalfOpen
	}
	return b.state
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Open:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrOpen
		}
		b.moveTo(HalfOpen)
		b.probing = true
		return nil
	case HalfOpen:
		if b.probing {
			return ErrOpen
		}
		b.probing = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) settle(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.probing = false
	if err == nil || !b.cfg.Trips(err) {
		b.failures = 0
		if b.state != Closed {
			b.moveTo(Closed)
		}
		return
	}

	b.failures++
	if b.state == HalfOpen || b.failures >= b.cfg.Threshold {
		b.openedAt = b.now()
		if b.state != Open {
			b.moveTo(Open)
		}
	}
}

func (b *Breaker) moveTo(to State) {
	zap.L().Info("circuit breaker state change",
		zap.String("service", b.cfg.Name),
		zap.Stringer("from", b.state),
		zap.Stringer("to", to),
		zap.Int("failures", b.failures),
	)
	b.state = to
}

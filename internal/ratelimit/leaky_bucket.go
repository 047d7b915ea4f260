package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrDailyLimit is returned immediately when the per-day budget is spent.
// Waiting cannot help before the next UTC day.
var ErrDailyLimit = errors.New("daily provider limit reached")

const (
	defaultWindow  = 60 * time.Second
	defaultEpsilon = 100 * time.Millisecond
)

type Config struct {
	PerMinute int
	PerDay    int

	// Rolling window length, defaults to one minute
	Window time.Duration
	// Added to computed waits so the oldest timestamp has left the window on wake-up
	Epsilon time.Duration

	Clock func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error

	// Called before each suspension, outside the lock
	OnWait func(d time.Duration)
}

// A granted slot. Pass it back to Release when the call never went out.
type Reservation struct {
	At  time.Time
	day int64
	ok  bool
}

type Snapshot struct {
	InWindow   int       `json:"in_window"`
	PerMinute  int       `json:"per_minute"`
	DailyCount int       `json:"daily_count"`
	PerDay     int       `json:"per_day"`
	ResetAt    time.Time `json:"reset_at"`
}

// Process-local leaky bucket guarding one provider. Bookkeeping happens under
// the mutex; waiting never does.
type LeakyBucket struct {
	mu         sync.Mutex
	timestamps []time.Time
	dailyCount int
	day        int64

	perMinute int
	perDay    int
	window    time.Duration
	epsilon   time.Duration
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration) error
	onWait    func(d time.Duration)
}

func NewLeakyBucket(cfg Config) *LeakyBucket {
	if cfg.PerMinute <= 0 {
		cfg.PerMinute = 1
	}
	if cfg.PerDay <= 0 {
		cfg.PerDay = cfg.PerMinute
	}
	if cfg.Window <= 0 {
		cfg.Window = defaultWindow
	}
	if cfg.Epsilon <= 0 {
		cfg.Epsilon = defaultEpsilon
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepContext
	}

	return &LeakyBucket{
		timestamps: make([]time.Time, 0, cfg.PerMinute),
		day:        epochDay(cfg.Clock()),
		perMinute:  cfg.PerMinute,
		perDay:     cfg.PerDay,
		window:     cfg.Window,
		epsilon:    cfg.Epsilon,
		now:        cfg.Clock,
		sleep:      cfg.Sleep,
		onWait:     cfg.OnWait,
	}
}

// Blocks until a slot is free in the rolling window, the context ends, or the
// daily budget is exhausted. A slot is only recorded once it is granted.
func (b *LeakyBucket) Acquire(ctx context.Context) (Reservation, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Reservation{}, err
		}

		b.mu.Lock()
		now := b.now()
		b.rollover(now)
		b.prune(now)

		if b.dailyCount >= b.perDay {
			b.mu.Unlock()
			return Reservation{}, ErrDailyLimit
		}

		if len(b.timestamps) < b.perMinute {
			b.timestamps = append(b.timestamps, now)
			b.dailyCount++
			r := Reservation{At: now, day: b.day, ok: true}
			b.mu.Unlock()
			return r, nil
		}

		wait := b.window - now.Sub(b.timestamps[0]) + b.epsilon
		b.mu.Unlock()

		if b.onWait != nil {
			b.onWait(wait)
		}
		if err := b.sleep(ctx, wait); err != nil {
			return Reservation{}, err
		}
	}
}

// Gives back a granted slot whose request was never sent. Reservations from a
// previous UTC day are ignored since that state has already been reset.
func (b *LeakyBucket) Release(r Reservation) {
	if !r.ok {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if r.day != b.day {
		return
	}
	for i, ts := range b.timestamps {
		if ts.Equal(r.At) {
			b.timestamps = append(b.timestamps[:i], b.timestamps[i+1:]...)
			if b.dailyCount > 0 {
				b.dailyCount--
			}
			return
		}
	}
}

func (b *LeakyBucket) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	b.rollover(now)
	b.prune(now)

	return Snapshot{
		InWindow:   len(b.timestamps),
		PerMinute:  b.perMinute,
		DailyCount: b.dailyCount,
		PerDay:     b.perDay,
		ResetAt:    NextDay(now),
	}
}

// Window and daily counter reset together when the UTC day changes
func (b *LeakyBucket) rollover(now time.Time) {
	if day := epochDay(now); day != b.day {
		b.day = day
		b.dailyCount = 0
		b.timestamps = b.timestamps[:0]
	}
}

func (b *LeakyBucket) prune(now time.Time) {
	cutoff := now.Add(-b.window)
	i := 0
	for i < len(b.timestamps) && !b.timestamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.timestamps = append(b.timestamps[:0], b.timestamps[i:]...)
	}
}

const secondsPerDay = 86400

func epochDay(t time.Time) int64 {
	s := t.Unix()
	d := s / secondsPerDay
	if s < 0 && s%secondsPerDay != 0 {
		d--
	}
	return d
}

// EpochDay is the integer UTC day number used as the reset key by both the
// provider limiters and the tenant quota.
func EpochDay(t time.Time) int64 {
	return epochDay(t)
}

// Start of the next UTC day
func NextDay(t time.Time) time.Time {
	return time.Unix((epochDay(t)+1)*secondsPerDay, 0).UTC()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

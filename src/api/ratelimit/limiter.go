package ratelimit

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Subject identifies who is being limited.
type Subject struct {
	Key           string // user id for authenticated callers, client IP otherwise
	UserID        uint64
	IP            string
	Role          string
	Authenticated bool
}

type Decision struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration
}

// MaxFunc resolves the window cap for a subject at decision time, so caps
// can follow live karma.
type MaxFunc func(ctx context.Context, subject Subject) int64

// KarmaSource reads a live karma total. karma.Ledger satisfies this.
type KarmaSource interface {
	Total(ctx context.Context, userID uint64) (int64, error)
}

// Limiter makes admission decisions against an atomic counter store.
// Allow never blocks and rejected requests are not queued; the caller
// surfaces RetryAfter and does nothing else.
type Limiter struct {
	store       CounterStore
	whitelist   map[string]bool
	healthPaths map[string]bool
	now         func() time.Time
}

func New(store CounterStore, ipWhitelist, healthPaths []string) *Limiter {
	l := &Limiter{
		store:       store,
		whitelist:   make(map[string]bool, len(ipWhitelist)),
		healthPaths: make(map[string]bool, len(healthPaths)),
		now:         time.Now,
	}
	for _, ip := range ipWhitelist {
		l.whitelist[ip] = true
	}
	for _, p := range healthPaths {
		l.healthPaths[p] = true
	}
	return l
}

// Allow admits or rejects one request for (subject, bucket). Skip rules run
// first and do not touch the counter: admin role, whitelisted IP, health
// paths. A denied request keeps its increment so hammering a closed window
// never resets it.
func (l *Limiter) Allow(ctx context.Context, subject Subject, bucket string, window time.Duration, maxFn MaxFunc) (Decision, error) {
	if subject.Role == "admin" || l.whitelist[subject.IP] || l.healthPaths[bucket] {
		return Decision{Allowed: true, Remaining: math.MaxInt64}, nil
	}

	windowIdx := l.now().UnixMilli() / window.Milliseconds()
	key := fmt.Sprintf("rl:%s:%s:%d", bucket, subject.Key, windowIdx)

	count, remaining, err := l.store.Incr(ctx, key, window)
	if err != nil {
		return Decision{}, err
	}

	max := maxFn(ctx, subject)
	if count > max {
		return Decision{Allowed: false, RetryAfter: remaining}, nil
	}
	return Decision{Allowed: true, Remaining: max - count}, nil
}

// ConstantMax caps every subject at the same count per window.
func ConstantMax(n int64) MaxFunc {
	return func(context.Context, Subject) int64 { return n }
}

// KarmaBasedMax grows the cap with the subject's live karma:
// min(baseMax + floor(karma * multiplier), baseMax * 10) for authenticated
// subjects, baseMax for anonymous ones.
func KarmaBasedMax(baseMax int64, multiplier float64, totals KarmaSource) MaxFunc {
	return func(ctx context.Context, subject Subject) int64 {
		if !subject.Authenticated || totals == nil {
			return baseMax
		}
		karma, err := totals.Total(ctx, subject.UserID)
		if err != nil {
			return baseMax
		}
		max := baseMax + int64(math.Floor(float64(karma)*multiplier))
		if ceiling := baseMax * 10; max > ceiling {
			max = ceiling
		}
		if max < 1 {
			max = 1
		}
		return max
	}
}

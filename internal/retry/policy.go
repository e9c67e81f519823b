// Package retry holds the retry policies used by the outbound clients.
// Policies are plain values so each client's backoff behavior can be tested
// without sleeping.
package retry

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"
)

// Class partitions retryable failures: rate limits back off harder than
// ordinary transient errors.
type Class int

const (
	ClassTransient Class = iota
	ClassRateLimited
)

// ErrRateLimited marks an upstream rate-limit signal. Clients either return it
// directly or wrap it so errors.Is still matches.
var ErrRateLimited = errors.New("rate limited by upstream")

// Classify maps an error onto its backoff class.
func Classify(err error) Class {
	if errors.Is(err, ErrRateLimited) {
		return ClassRateLimited
	}
	return ClassTransient
}

// Policy describes one component's retry behavior. The zero value is not
// usable; construct with the component presets below or fill every field.
type Policy struct {
	MaxAttempts  int
	BaseDelay    time.Duration
	RateLimitCap time.Duration
	TransientCap time.Duration

	// Jitter returns an extra delay for an attempt; nil means no jitter.
	Jitter func(Class) time.Duration

	// Sleep is swapped out in tests. nil means a context-aware real sleep.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Summarizer is the language-model call policy: 5 attempts, exponential delay
// capped at 600s for rate limits and 300s otherwise, with jitter.
func Summarizer() Policy {
	return Policy{
		MaxAttempts:  5,
		BaseDelay:    time.Second,
		RateLimitCap: 600 * time.Second,
		TransientCap: 300 * time.Second,
		Jitter: func(c Class) time.Duration {
			if c == ClassRateLimited {
				return time.Duration(rand.Float64() * 5 * float64(time.Second))
			}
			return time.Duration(rand.Float64() * 2 * float64(time.Second))
		},
	}
}

// Forum is the forum-endpoint policy: 3 attempts, exponential delay capped at
// 300s, no jitter.
func Forum() Policy {
	return Policy{
		MaxAttempts:  3,
		BaseDelay:    time.Second,
		RateLimitCap: 300 * time.Second,
		TransientCap: 300 * time.Second,
	}
}

// Delay computes the backoff before retrying attempt (0-based). Delays are
// non-decreasing in attempt up to the class cap.
func (p Policy) Delay(class Class, attempt int) time.Duration {
	limit := p.TransientCap
	if class == ClassRateLimited {
		limit = p.RateLimitCap
	}
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt)))
	if d > limit || d <= 0 {
		d = limit
	}
	if p.Jitter != nil {
		d += p.Jitter(class)
		if d > limit {
			d = limit
		}
	}
	return d
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs fn up to MaxAttempts times, backing off between attempts according
// to the class of the returned error. The last error propagates once attempts
// are exhausted.
func (p Policy) Do(ctx context.Context, log *slog.Logger, op string, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < p.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == p.MaxAttempts-1 {
			break
		}
		class := Classify(lastErr)
		delay := p.Delay(class, attempt)
		if log != nil {
			log.Warn("retrying after failure",
				"op", op,
				"attempt", attempt+1,
				"max_attempts", p.MaxAttempts,
				"delay", delay,
				"rate_limited", class == ClassRateLimited,
				"error", lastErr,
			)
		}
		if err := p.sleep(ctx, delay); err != nil {
			return err
		}
	}
	if log != nil {
		log.Error("retries exhausted", "op", op, "attempts", p.MaxAttempts, "error", lastErr)
	}
	return lastErr
}

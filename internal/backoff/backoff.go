// Package backoff computes retry delays with exponential growth and jitter,
// and sleeps under context control.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// Policy parameterises the delay schedule.
type Policy struct {
	// Initial is the delay before the first retry.
	Initial time.Duration

	// Max caps the computed delay.
	Max time.Duration

	// Factor multiplies the delay per attempt.
	Factor float64

	// Jitter in [0, 1] randomises the delay upward by up to that fraction.
	Jitter float64
}

// Default is the schedule used for LLM request retries: 1s initial,
// doubling, capped at 30s, 10% jitter.
func Default() Policy {
	return Policy{
		Initial: time.Second,
		Max:     30 * time.Second,
		Factor:  2,
		Jitter:  0.1,
	}
}

// Delay returns the sleep before retry number attempt. Attempts count
// from 0: Delay(0) is the wait after the first failure.
func (p Policy) Delay(attempt int) time.Duration {
	return p.delay(attempt, rand.Float64())
}

func (p Policy) delay(attempt int, random float64) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	base := float64(p.Initial) * math.Pow(p.Factor, float64(attempt))
	total := base + base*p.Jitter*random
	if max := float64(p.Max); p.Max > 0 && total > max {
		total = max
	}
	return time.Duration(total)
}

// Wait sleeps for Delay(attempt), returning early with ctx.Err() on
// cancellation.
func (p Policy) Wait(ctx context.Context, attempt int) error {
	return Sleep(ctx, p.Delay(attempt))
}

// Sleep blocks for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
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

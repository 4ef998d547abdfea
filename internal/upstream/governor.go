package upstream

import (
	"context"
	"fmt"
	"time"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/net/budget"
	"github.com/footybrain/footyd/internal/net/ratelimit"
)

// Governor is the shared gate in front of every provider call. A permit
// requires a free slot in the rolling day window, the rolling minute
// window and the per-second token bucket, in that order. One governor
// serves the whole process so the ceilings hold globally.
type Governor struct {
	second        *ratelimit.Limiter
	minute        *budget.Window
	day           *budget.Window
	permitTimeout time.Duration
}

// NewGovernor builds a governor from the upstream config.
func NewGovernor(cfg config.UpstreamConfig) *Governor {
	return &Governor{
		second:        ratelimit.NewLimiter(cfg.MaxRPS, cfg.Burst),
		minute:        budget.NewWindow("minute", cfg.MaxRPM, time.Minute),
		day:           budget.NewWindow("day", cfg.MaxRPD, 24*time.Hour),
		permitTimeout: cfg.PermitTimeout,
	}
}

// Acquire blocks until a permit is granted or the permit timeout (or
// ctx) expires, in which case it returns ErrRateStalled. An exhausted
// day window whose next slot frees beyond the timeout fails fast
// instead of sleeping.
func (g *Governor) Acquire(ctx context.Context) error {
	deadline := time.Now().Add(g.permitTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	for {
		wait := g.day.Delay()
		if md := g.minute.Delay(); md > wait {
			wait = md
		}

		if wait > 0 {
			if time.Now().Add(wait).After(deadline) {
				return fmt.Errorf("windows free at +%s: %w", wait.Round(time.Millisecond), ErrRateStalled)
			}
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%v: %w", ctx.Err(), ErrRateStalled)
			case <-timer.C:
			}
			continue
		}

		if err := g.day.TryConsume(); err != nil {
			continue // raced with another caller, re-evaluate delays
		}
		if err := g.minute.TryConsume(); err != nil {
			g.day.Undo()
			continue
		}
		break
	}

	// Window slots are held; the bucket wait is bounded by the deadline.
	waitCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()
	if err := g.second.Wait(waitCtx); err != nil {
		// Keep the window stamps: a request nearly happened and the
		// conservative count can only under-admit, never over-admit.
		return fmt.Errorf("second bucket: %w", ErrRateStalled)
	}
	return nil
}

// Stats reports all three gates for the health probe.
type GovernorStats struct {
	Second ratelimit.Stats `json:"second"`
	Minute budget.Stats    `json:"minute"`
	Day    budget.Stats    `json:"day"`
}

// Stats returns a point-in-time view of the governor.
func (g *Governor) Stats() GovernorStats {
	return GovernorStats{
		Second: g.second.Stats(),
		Minute: g.minute.Stats(),
		Day:    g.day.Stats(),
	}
}

// SetRPS adjusts the per-second ceiling at runtime.
func (g *Governor) SetRPS(rps float64) { g.second.SetRPS(rps) }

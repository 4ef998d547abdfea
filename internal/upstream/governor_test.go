package upstream

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/footybrain/footyd/internal/config"
)

func governorConfig() config.UpstreamConfig {
	cfg := config.Default().Upstream
	cfg.MaxRPS = 1000
	cfg.Burst = 100
	cfg.MaxRPM = 100
	cfg.MaxRPD = 1000
	cfg.PermitTimeout = time.Second
	return cfg
}

func TestGovernorGrantsWithinLimits(t *testing.T) {
	gov := NewGovernor(governorConfig())

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		if err := gov.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}

	stats := gov.Stats()
	if stats.Minute.Used != 10 {
		t.Errorf("minute used = %d, want 10", stats.Minute.Used)
	}
	if stats.Day.Used != 10 {
		t.Errorf("day used = %d, want 10", stats.Day.Used)
	}
}

func TestGovernorStallsWhenDayExhausted(t *testing.T) {
	cfg := governorConfig()
	cfg.MaxRPD = 2
	cfg.PermitTimeout = 50 * time.Millisecond
	gov := NewGovernor(cfg)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := gov.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}

	start := time.Now()
	err := gov.Acquire(ctx)
	if !errors.Is(err, ErrRateStalled) {
		t.Fatalf("Acquire past day limit = %v, want ErrRateStalled", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("stall took %v, want fail-fast well under the window width", elapsed)
	}
}

func TestGovernorStallsWhenMinuteExhausted(t *testing.T) {
	cfg := governorConfig()
	cfg.MaxRPM = 1
	cfg.PermitTimeout = 50 * time.Millisecond
	gov := NewGovernor(cfg)

	ctx := context.Background()
	if err := gov.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire failed: %v", err)
	}
	if err := gov.Acquire(ctx); !errors.Is(err, ErrRateStalled) {
		t.Errorf("Acquire past minute limit = %v, want ErrRateStalled", err)
	}

	// The failed attempt must not leak a day slot it never used.
	if used := gov.Stats().Day.Used; used != 1 {
		t.Errorf("day used after minute stall = %d, want 1", used)
	}
}

func TestGovernorHonorsCancelledContext(t *testing.T) {
	gov := NewGovernor(governorConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := gov.Acquire(ctx); !errors.Is(err, ErrRateStalled) {
		t.Errorf("Acquire with cancelled ctx = %v, want ErrRateStalled", err)
	}
}

func TestGovernorSecondGateSpacesRequests(t *testing.T) {
	cfg := governorConfig()
	cfg.MaxRPS = 50
	cfg.Burst = 1
	gov := NewGovernor(cfg)

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 4; i++ {
		if err := gov.Acquire(ctx); err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
	}
	// Burst 1 at 50 rps forces roughly 20ms between grants.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("4 acquires took %v, want pacing from the token bucket", elapsed)
	}
}

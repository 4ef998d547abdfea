package budget

import (
	"fmt"
	"sync"
	"time"
)

// ExhaustedError reports a window with no free slot and when one frees.
type ExhaustedError struct {
	Window string
	Used   int
	Limit  int
	ETA    time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("budget exhausted for %s window: %d/%d used, frees at %s",
		e.Window, e.Used, e.Limit, e.ETA.UTC().Format("15:04:05 UTC"))
}

// Window enforces a rolling-window ceiling: at most Limit permits inside
// any interval of the configured width. Permits are tracked as
// timestamps and expire as the window slides, so a day window drains
// continuously instead of resetting at a fixed hour.
type Window struct {
	name  string
	limit int
	width time.Duration

	mu     sync.Mutex
	stamps []time.Time // oldest first, pruned on every call
	nowFn  func() time.Time
}

// NewWindow creates a rolling window named for logs and stats.
func NewWindow(name string, limit int, width time.Duration) *Window {
	return &Window{
		name:  name,
		limit: limit,
		width: width,
		nowFn: time.Now,
	}
}

// prune drops stamps that slid out of the window. Callers hold w.mu.
func (w *Window) prune(now time.Time) {
	cutoff := now.Add(-w.width)
	i := 0
	for i < len(w.stamps) && !w.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w.stamps = append(w.stamps[:0], w.stamps[i:]...)
	}
}

// TryConsume takes a permit if the window has room, otherwise returns
// *ExhaustedError carrying the instant the oldest permit expires.
func (w *Window) TryConsume() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFn()
	w.prune(now)

	if len(w.stamps) >= w.limit {
		eta := now.Add(w.width)
		if len(w.stamps) > 0 {
			eta = w.stamps[0].Add(w.width)
		}
		return &ExhaustedError{
			Window: w.name,
			Used:   len(w.stamps),
			Limit:  w.limit,
			ETA:    eta,
		}
	}

	w.stamps = append(w.stamps, now)
	return nil
}

// Undo releases the most recent permit. Used when a caller consumed
// this window but a later gate refused the request.
func (w *Window) Undo() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := len(w.stamps); n > 0 {
		w.stamps = w.stamps[:n-1]
	}
}

// Delay returns how long until a permit could be taken: zero when the
// window has room, otherwise the time until the oldest stamp expires.
func (w *Window) Delay() time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFn()
	w.prune(now)

	if len(w.stamps) < w.limit {
		return 0
	}
	if len(w.stamps) == 0 {
		return w.width
	}
	return w.stamps[0].Add(w.width).Sub(now)
}

// SetLimit updates the ceiling in place. Shrinking below the current
// in-window count stalls new permits until enough stamps expire.
func (w *Window) SetLimit(limit int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.limit = limit
}

// Stats is a point-in-time view of the window for the health probe.
type Stats struct {
	Name        string        `json:"name"`
	Limit       int           `json:"limit"`
	Used        int           `json:"used"`
	Remaining   int           `json:"remaining"`
	Utilization float64       `json:"utilization"`
	Width       time.Duration `json:"width"`
	NextFree    time.Time     `json:"next_free,omitempty"`
}

// Stats returns the current window state.
func (w *Window) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.nowFn()
	w.prune(now)

	s := Stats{
		Name:      w.name,
		Limit:     w.limit,
		Used:      len(w.stamps),
		Remaining: w.limit - len(w.stamps),
		Width:     w.width,
	}
	if w.limit > 0 {
		s.Utilization = float64(s.Used) / float64(w.limit)
	}
	if s.Remaining <= 0 && len(w.stamps) > 0 {
		s.NextFree = w.stamps[0].Add(w.width)
	}
	return s
}

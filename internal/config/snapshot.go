package config

import (
	"sync/atomic"
	"time"

	"github.com/footybrain/footyd/internal/domain"
)

// Snapshot is the immutable runtime view of the mutable settings:
// enabled leagues and per-kind pull intervals. Components read the
// current snapshot at the top of each cycle; the scheduler swaps in a
// fresh one when the operator changes anything.
type Snapshot struct {
	Version        int64
	EnabledLeagues map[int64]bool
	Intervals      map[domain.TickKind]time.Duration
	RefreshedAt    time.Time
}

// LeagueEnabled reports whether the live loop should poll fixtures of
// the league. An empty enabled set disables filtering: live fixtures
// are ingested regardless of league until an operator curates the set.
func (s *Snapshot) LeagueEnabled(id int64) bool {
	if len(s.EnabledLeagues) == 0 {
		return true
	}
	return s.EnabledLeagues[id]
}

// Interval returns the pull cadence for a tick kind.
func (s *Snapshot) Interval(kind domain.TickKind) time.Duration {
	if d, ok := s.Intervals[kind]; ok && d > 0 {
		return d
	}
	return 10 * time.Second
}

// InitialSnapshot builds the boot-time snapshot from the static files.
func InitialSnapshot(cfg Config, leagues *LeaguesConfig) *Snapshot {
	enabled := make(map[int64]bool)
	if leagues != nil {
		for _, id := range leagues.EnabledIDs() {
			enabled[id] = true
		}
	}
	return &Snapshot{
		Version:        1,
		EnabledLeagues: enabled,
		Intervals: map[domain.TickKind]time.Duration{
			domain.KindOdds:   cfg.Ingest.OddsInterval,
			domain.KindEvents: cfg.Ingest.EventsInterval,
			domain.KindStats:  cfg.Ingest.StatsInterval,
		},
		RefreshedAt: time.Now().UTC(),
	}
}

// Holder hands out the current snapshot and swaps in replacements
// atomically. All components share one holder.
type Holder struct {
	p atomic.Pointer[Snapshot]
}

// NewHolder seeds a holder with the boot snapshot.
func NewHolder(s *Snapshot) *Holder {
	h := &Holder{}
	h.p.Store(s)
	return h
}

// Current returns the latest snapshot. Never nil.
func (h *Holder) Current() *Snapshot {
	return h.p.Load()
}

// Swap publishes a new snapshot if it is newer than the current one.
func (h *Holder) Swap(s *Snapshot) {
	for {
		cur := h.p.Load()
		if cur != nil && cur.Version >= s.Version {
			return
		}
		if h.p.CompareAndSwap(cur, s) {
			return
		}
	}
}

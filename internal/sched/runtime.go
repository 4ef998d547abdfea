package sched

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/config"
	"github.com/footybrain/footyd/internal/domain"
)

// Override keys in the runtime config table. The ops surface writes
// them, the snapshotter folds them into the live snapshot.
const (
	ConfigKeyLeagues   = "enabled_leagues"
	ConfigKeyIntervals = "pull_intervals"
)

// LeaguesOverride is the stored league curation. An empty id list
// clears curation, which re-enables every league.
type LeaguesOverride struct {
	LeagueIDs []int64 `json:"league_ids"`
}

// IntervalsOverride is the stored pull cadence override. Absent fields
// keep the boot value.
type IntervalsOverride struct {
	Odds   string `json:"odds,omitempty"`
	Events string `json:"events,omitempty"`
	Stats  string `json:"stats,omitempty"`
}

// Snapshotter folds operator overrides over the boot configuration and
// publishes the result through the shared holder. It runs on the
// dispatcher tick; unchanged overrides cost two indexed single-row
// reads and produce nothing.
type Snapshotter struct {
	jobs   configReader
	holder *config.Holder
	base   *config.Snapshot

	mu            sync.Mutex
	lastLeagues   string
	lastIntervals string
	version       int64
	primed        bool
}

// configReader is the slice of the job store the snapshotter needs.
type configReader interface {
	GetConfig(ctx context.Context, key string) ([]byte, bool, error)
}

// NewSnapshotter wires the refresher over the boot snapshot currently
// in the holder.
func NewSnapshotter(jobs configReader, holder *config.Holder) *Snapshotter {
	base := holder.Current()
	return &Snapshotter{
		jobs:    jobs,
		holder:  holder,
		base:    base,
		version: base.Version,
	}
}

// Refresh re-reads the overrides and swaps a new snapshot in when
// either changed. Store errors keep the previous snapshot; components
// never see a half-applied change.
func (s *Snapshotter) Refresh(ctx context.Context) {
	rawLeagues, _, err := s.jobs.GetConfig(ctx, ConfigKeyLeagues)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read league override")
		return
	}
	rawIntervals, _, err := s.jobs.GetConfig(ctx, ConfigKeyIntervals)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read interval override")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.primed && string(rawLeagues) == s.lastLeagues && string(rawIntervals) == s.lastIntervals {
		return
	}
	first := !s.primed
	s.primed = true
	s.lastLeagues = string(rawLeagues)
	s.lastIntervals = string(rawIntervals)

	// The first pass with no stored overrides is the boot state; the
	// holder already carries it.
	if first && rawLeagues == nil && rawIntervals == nil {
		return
	}

	snap := s.build(rawLeagues, rawIntervals)
	s.version++
	snap.Version = s.version
	snap.RefreshedAt = time.Now().UTC()
	s.holder.Swap(snap)
	log.Info().Int64("version", snap.Version).Int("leagues", len(snap.EnabledLeagues)).
		Msg("Runtime config snapshot published")
}

// build layers the raw overrides over the boot snapshot. Malformed
// stored values fall back to the boot side field by field.
func (s *Snapshotter) build(rawLeagues, rawIntervals []byte) *config.Snapshot {
	enabled := make(map[int64]bool, len(s.base.EnabledLeagues))
	for id, on := range s.base.EnabledLeagues {
		enabled[id] = on
	}
	if rawLeagues != nil {
		var o LeaguesOverride
		if err := json.Unmarshal(rawLeagues, &o); err != nil {
			log.Warn().Err(err).Msg("Malformed league override ignored")
		} else {
			enabled = make(map[int64]bool, len(o.LeagueIDs))
			for _, id := range o.LeagueIDs {
				enabled[id] = true
			}
		}
	}

	intervals := make(map[domain.TickKind]time.Duration, len(s.base.Intervals))
	for kind, d := range s.base.Intervals {
		intervals[kind] = d
	}
	if rawIntervals != nil {
		var o IntervalsOverride
		if err := json.Unmarshal(rawIntervals, &o); err != nil {
			log.Warn().Err(err).Msg("Malformed interval override ignored")
		} else {
			applyInterval(intervals, domain.KindOdds, o.Odds)
			applyInterval(intervals, domain.KindEvents, o.Events)
			applyInterval(intervals, domain.KindStats, o.Stats)
		}
	}

	return &config.Snapshot{
		EnabledLeagues: enabled,
		Intervals:      intervals,
	}
}

func applyInterval(intervals map[domain.TickKind]time.Duration, kind domain.TickKind, spec string) {
	if spec == "" {
		return
	}
	d, err := time.ParseDuration(spec)
	if err != nil || d < time.Second {
		log.Warn().Str("kind", string(kind)).Str("value", spec).Msg("Unusable interval override ignored")
		return
	}
	intervals[kind] = d
}

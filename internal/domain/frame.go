package domain

import "time"

// FrameBucket is the fixed width of a live frame window.
const FrameBucket = time.Minute

// Frame is the per-(fixture, minute) roll-up of raw ticks: average 1X2
// prices with open-to-close deltas, event counts by category, and the
// fixture's score at window close. One row per (FixtureID, BucketStart).
type Frame struct {
	FixtureID     int64     `db:"fixture_id" json:"fixture_id"`
	BucketStart   time.Time `db:"bucket_start" json:"bucket_start"`
	HomeTeamID    int64     `db:"home_team_id" json:"home_team_id"`
	AwayTeamID    int64     `db:"away_team_id" json:"away_team_id"`
	Status        Status    `db:"status" json:"status"`
	Elapsed       *int      `db:"elapsed" json:"elapsed,omitempty"`
	HomeGoals     *int      `db:"home_goals" json:"home_goals,omitempty"`
	AwayGoals     *int      `db:"away_goals" json:"away_goals,omitempty"`
	AvgHomeOdd    *float64  `db:"avg_home_odd" json:"avg_home_odd,omitempty"`
	AvgDrawOdd    *float64  `db:"avg_draw_odd" json:"avg_draw_odd,omitempty"`
	AvgAwayOdd    *float64  `db:"avg_away_odd" json:"avg_away_odd,omitempty"`
	HomeOddDelta  *float64  `db:"home_odd_delta" json:"home_odd_delta,omitempty"`
	AwayOddDelta  *float64  `db:"away_odd_delta" json:"away_odd_delta,omitempty"`
	Goals         int       `db:"goals" json:"goals"`
	Cards         int       `db:"cards" json:"cards"`
	Substitutions int       `db:"substitutions" json:"substitutions"`
	OddsTicks     int       `db:"odds_ticks" json:"odds_ticks"`
	EventTicks    int       `db:"event_ticks" json:"event_ticks"`
}

// BucketStartFor truncates an instant down to its frame window start.
func BucketStartFor(t time.Time) time.Time {
	return t.UTC().Truncate(FrameBucket)
}

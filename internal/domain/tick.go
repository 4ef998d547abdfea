package domain

import "time"

// TickKind selects one of the three live pull kinds for a fixture.
type TickKind string

const (
	KindOdds   TickKind = "odds"
	KindEvents TickKind = "events"
	KindStats  TickKind = "stats"
)

// OddsTick is one observation of one outcome's price at one bookmaker.
// Natural key: (FixtureID, BookmakerID, Market, Outcome, Instant).
type OddsTick struct {
	FixtureID   int64     `db:"fixture_id" json:"fixture_id"`
	BookmakerID int64     `db:"bookmaker_id" json:"bookmaker_id"`
	Market      string    `db:"market" json:"market"`
	Outcome     string    `db:"outcome" json:"outcome"`
	Instant     time.Time `db:"instant" json:"instant"`
	Price       float64   `db:"price" json:"price"`
	MatchMinute *int      `db:"match_minute" json:"match_minute,omitempty"`
}

// Valid reports whether the tick can be stored. Prices must be positive
// and the fixture reference set.
func (t OddsTick) Valid() bool {
	return t.FixtureID > 0 && t.Price > 0 && !t.Instant.IsZero()
}

// EventTick is one in-match occurrence: goal, card, substitution, VAR.
type EventTick struct {
	FixtureID   int64     `db:"fixture_id" json:"fixture_id"`
	Instant     time.Time `db:"instant" json:"instant"`
	MatchMinute int       `db:"match_minute" json:"match_minute"`
	ExtraMinute *int      `db:"extra_minute" json:"extra_minute,omitempty"`
	Type        string    `db:"type" json:"type"`
	Detail      string    `db:"detail" json:"detail,omitempty"`
	TeamID      *int64    `db:"team_id" json:"team_id,omitempty"`
	PlayerID    *int64    `db:"player_id" json:"player_id,omitempty"`
	AssistID    *int64    `db:"assist_id" json:"assist_id,omitempty"`
	Comment     string    `db:"comment" json:"comment,omitempty"`
}

// Valid reports whether the event references a fixture and carries a type.
func (t EventTick) Valid() bool {
	return t.FixtureID > 0 && t.Type != "" && !t.Instant.IsZero()
}

// StatTick is one snapshot of a team's cumulative match statistics.
// Natural key: (FixtureID, TeamID, Instant).
type StatTick struct {
	FixtureID       int64     `db:"fixture_id" json:"fixture_id"`
	TeamID          int64     `db:"team_id" json:"team_id"`
	Instant         time.Time `db:"instant" json:"instant"`
	ShotsOnGoal     *int      `db:"shots_on_goal" json:"shots_on_goal,omitempty"`
	ShotsOffGoal    *int      `db:"shots_off_goal" json:"shots_off_goal,omitempty"`
	TotalShots      *int      `db:"total_shots" json:"total_shots,omitempty"`
	BlockedShots    *int      `db:"blocked_shots" json:"blocked_shots,omitempty"`
	ShotsInsideBox  *int      `db:"shots_inside_box" json:"shots_inside_box,omitempty"`
	ShotsOutsideBox *int      `db:"shots_outside_box" json:"shots_outside_box,omitempty"`
	PossessionPct   *float64  `db:"possession_pct" json:"possession_pct,omitempty"`
	CornerKicks     *int      `db:"corner_kicks" json:"corner_kicks,omitempty"`
	Offsides        *int      `db:"offsides" json:"offsides,omitempty"`
	Fouls           *int      `db:"fouls" json:"fouls,omitempty"`
	YellowCards     *int      `db:"yellow_cards" json:"yellow_cards,omitempty"`
	RedCards        *int      `db:"red_cards" json:"red_cards,omitempty"`
	GoalkeeperSaves *int      `db:"goalkeeper_saves" json:"goalkeeper_saves,omitempty"`
	TotalPasses     *int      `db:"total_passes" json:"total_passes,omitempty"`
	PassesAccurate  *int      `db:"passes_accurate" json:"passes_accurate,omitempty"`
	PassesPct       *float64  `db:"passes_pct" json:"passes_pct,omitempty"`
	ExpectedGoals   *float64  `db:"expected_goals" json:"expected_goals,omitempty"`
}

// Valid reports whether the snapshot can be stored. Possession, when
// present, must lie in [0,100].
func (t StatTick) Valid() bool {
	if t.FixtureID <= 0 || t.TeamID <= 0 || t.Instant.IsZero() {
		return false
	}
	if t.PossessionPct != nil && (*t.PossessionPct < 0 || *t.PossessionPct > 100) {
		return false
	}
	return true
}

// PrematchQuote is one bookmaker price captured before kickoff.
type PrematchQuote struct {
	FixtureID        int64     `db:"fixture_id" json:"fixture_id"`
	BookmakerID      int64     `db:"bookmaker_id" json:"bookmaker_id"`
	Market           string    `db:"market" json:"market"`
	Outcome          string    `db:"outcome" json:"outcome"`
	SampledAt        time.Time `db:"sampled_at" json:"sampled_at"`
	Price            float64   `db:"price" json:"price"`
	HoursBeforeMatch float64   `db:"hours_before_match" json:"hours_before_match"`
}

// Valid reports whether the quote can be stored.
func (q PrematchQuote) Valid() bool {
	return q.FixtureID > 0 && q.Price > 0 && !q.SampledAt.IsZero()
}

// Market1X2 is the match-winner market id used by the frame aggregator.
const Market1X2 = "1X2"

// Canonical 1X2 outcome labels. Normalization maps the provider's
// "Home"/"Draw"/"Away" strings onto these.
const (
	OutcomeHome = "1"
	OutcomeDraw = "X"
	OutcomeAway = "2"
)

package upstream

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/footybrain/footyd/internal/domain"
)

// canonicalMarket folds the provider's match-winner market variants onto
// the 1X2 id the frame aggregator keys on. Other markets keep their
// provider name so the store stays lossless.
func canonicalMarket(id int64, name string) string {
	switch {
	case id == 1, name == "Match Winner", name == "1X2", name == "Full Time Result":
		return domain.Market1X2
	case name != "":
		return name
	default:
		return "bet_" + strconv.FormatInt(id, 10)
	}
}

// canonicalOutcome maps Home/Draw/Away onto 1/X/2 for the 1X2 market.
// Outcomes of other markets pass through untouched.
func canonicalOutcome(market, value string) string {
	if market != domain.Market1X2 {
		return value
	}
	switch value {
	case "Home", domain.OutcomeHome:
		return domain.OutcomeHome
	case "Draw", domain.OutcomeDraw:
		return domain.OutcomeDraw
	case "Away", domain.OutcomeAway:
		return domain.OutcomeAway
	default:
		return value
	}
}

// normalizeLiveOdds flattens one live-odds payload into ticks. Every tick
// in the payload shares a single collection instant so the frame
// aggregator sees one coherent sample. Returns the ticks and the count of
// entries dropped by validation.
func normalizeLiveOdds(fixtureID int64, raw json.RawMessage, now time.Time) ([]domain.OddsTick, int, error) {
	var items []liveOddsItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, err
	}

	var ticks []domain.OddsTick
	dropped := 0
	for _, item := range items {
		fid := item.Fixture.ID
		if fid == 0 {
			fid = fixtureID
		}
		if item.Bookmaker.ID == 0 {
			dropped++
			continue
		}
		for _, bet := range item.Bets {
			market := canonicalMarket(bet.ID, bet.Name)
			for _, v := range bet.Values {
				price, ok := looseFloat(v.Odd)
				if !ok {
					dropped++
					continue
				}
				tick := domain.OddsTick{
					FixtureID:   fid,
					BookmakerID: item.Bookmaker.ID,
					Market:      market,
					Outcome:     canonicalOutcome(market, v.Value),
					Instant:     now,
					Price:       price,
					MatchMinute: item.Fixture.Status.Elapsed,
				}
				if !tick.Valid() {
					dropped++
					continue
				}
				ticks = append(ticks, tick)
			}
		}
	}
	return ticks, dropped, nil
}

// normalizePrematch flattens one prematch-odds payload into quotes,
// stamping each with the sampling distance to kickoff.
func normalizePrematch(raw json.RawMessage, now time.Time) ([]domain.PrematchQuote, int, error) {
	var items []prematchOddsItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, err
	}

	var quotes []domain.PrematchQuote
	dropped := 0
	for _, item := range items {
		if item.Fixture.ID == 0 {
			dropped++
			continue
		}
		kickoff, err := time.Parse(time.RFC3339, item.Fixture.Date)
		if err != nil {
			dropped++
			continue
		}
		hours := kickoff.Sub(now).Hours()
		for _, bk := range item.Bookmakers {
			if bk.ID == 0 {
				dropped++
				continue
			}
			for _, bet := range bk.Bets {
				market := canonicalMarket(bet.ID, bet.Name)
				for _, v := range bet.Values {
					price, ok := looseFloat(v.Odd)
					if !ok {
						dropped++
						continue
					}
					q := domain.PrematchQuote{
						FixtureID:        item.Fixture.ID,
						BookmakerID:      bk.ID,
						Market:           market,
						Outcome:          canonicalOutcome(market, v.Value),
						SampledAt:        now,
						Price:            price,
						HoursBeforeMatch: hours,
					}
					if !q.Valid() {
						dropped++
						continue
					}
					quotes = append(quotes, q)
				}
			}
		}
	}
	return quotes, dropped, nil
}

// normalizeEvents converts one events payload into event ticks. Entries
// without a type are dropped; zero player/assist/team ids become nil so
// the store does not reference absent dimension rows.
func normalizeEvents(fixtureID int64, raw json.RawMessage, now time.Time) ([]domain.EventTick, int, error) {
	var items []eventItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, err
	}

	var ticks []domain.EventTick
	dropped := 0
	for _, item := range items {
		minute := 0
		if item.Time.Elapsed != nil {
			minute = *item.Time.Elapsed
		}
		tick := domain.EventTick{
			FixtureID:   fixtureID,
			Instant:     now,
			MatchMinute: minute,
			ExtraMinute: item.Time.Extra,
			Type:        item.Type,
			Detail:      item.Detail,
			TeamID:      optionalID(item.Team.ID),
			PlayerID:    optionalID(item.Player.ID),
			AssistID:    optionalID(item.Assist.ID),
		}
		if item.Comment != nil {
			tick.Comment = *item.Comment
		}
		if !tick.Valid() {
			dropped++
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, dropped, nil
}

// normalizeStats converts one statistics payload into per-team snapshots.
// Labels are folded to lower_snake_case; percentage strings lose their
// suffix; absent values stay nil rather than zero so a missing stat is
// distinguishable from a true zero.
func normalizeStats(fixtureID int64, raw json.RawMessage, now time.Time) ([]domain.StatTick, int, error) {
	var items []statsItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, err
	}

	var ticks []domain.StatTick
	dropped := 0
	for _, item := range items {
		if item.Team.ID == 0 {
			dropped++
			continue
		}
		tick := domain.StatTick{
			FixtureID: fixtureID,
			TeamID:    item.Team.ID,
			Instant:   now,
		}
		for _, stat := range item.Statistics {
			key := strings.ReplaceAll(strings.ToLower(stat.Type), " ", "_")
			val, ok := looseFloat(stat.Value)
			if !ok {
				continue
			}
			assignStat(&tick, key, val)
		}
		if !tick.Valid() {
			dropped++
			continue
		}
		ticks = append(ticks, tick)
	}
	return ticks, dropped, nil
}

// looseFloat decodes a loosely typed numeric value: null, a bare
// number, or a string such as "2.10", "53%" or "1.2".
func looseFloat(raw json.RawMessage) (float64, bool) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, false
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	s = strings.TrimSuffix(s, "%")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func assignStat(t *domain.StatTick, key string, val float64) {
	switch key {
	case "shots_on_goal":
		t.ShotsOnGoal = intPtr(val)
	case "shots_off_goal":
		t.ShotsOffGoal = intPtr(val)
	case "total_shots":
		t.TotalShots = intPtr(val)
	case "blocked_shots":
		t.BlockedShots = intPtr(val)
	case "shots_insidebox", "shots_inside_box":
		t.ShotsInsideBox = intPtr(val)
	case "shots_outsidebox", "shots_outside_box":
		t.ShotsOutsideBox = intPtr(val)
	case "ball_possession":
		t.PossessionPct = floatPtr(val)
	case "corner_kicks":
		t.CornerKicks = intPtr(val)
	case "offsides":
		t.Offsides = intPtr(val)
	case "fouls":
		t.Fouls = intPtr(val)
	case "yellow_cards":
		t.YellowCards = intPtr(val)
	case "red_cards":
		t.RedCards = intPtr(val)
	case "goalkeeper_saves":
		t.GoalkeeperSaves = intPtr(val)
	case "total_passes":
		t.TotalPasses = intPtr(val)
	case "passes_accurate":
		t.PassesAccurate = intPtr(val)
	case "passes_%", "passes_percentage":
		t.PassesPct = floatPtr(val)
	case "expected_goals":
		t.ExpectedGoals = floatPtr(val)
	}
}

// normalizeFixtures converts one fixtures payload into fixture rows.
// Entries missing the id, league or either team are dropped.
func normalizeFixtures(raw json.RawMessage, now time.Time) ([]domain.Fixture, int, error) {
	var items []fixtureItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, 0, err
	}

	var fixtures []domain.Fixture
	dropped := 0
	for _, item := range items {
		if item.Fixture.ID == 0 || item.League.ID == 0 || item.Teams.Home.ID == 0 || item.Teams.Away.ID == 0 {
			dropped++
			continue
		}
		kickoff, err := time.Parse(time.RFC3339, item.Fixture.Date)
		if err != nil {
			dropped++
			continue
		}
		f := domain.Fixture{
			ID:         item.Fixture.ID,
			LeagueID:   item.League.ID,
			SeasonYear: item.League.Season,
			Round:      item.League.Round,
			VenueID:    item.Fixture.Venue.ID,
			Kickoff:    kickoff.UTC(),
			Timezone:   item.Fixture.Timezone,
			HomeTeamID: item.Teams.Home.ID,
			AwayTeamID: item.Teams.Away.ID,
			Status:     domain.Status(item.Fixture.Status.Short),
			Elapsed:    item.Fixture.Status.Elapsed,
			HomeGoals:  item.Goals.Home,
			AwayGoals:  item.Goals.Away,
			HTHome:     item.Score.Halftime.Home,
			HTAway:     item.Score.Halftime.Away,
			ETHome:     item.Score.Extratime.Home,
			ETAway:     item.Score.Extratime.Away,
			PenHome:    item.Score.Penalty.Home,
			PenAway:    item.Score.Penalty.Away,
			UpdatedAt:  now,
		}
		if item.Fixture.Referee != nil {
			f.Referee = *item.Fixture.Referee
		}
		fixtures = append(fixtures, f)
	}
	return fixtures, dropped, nil
}

// Dimensions are the league, team and venue rows named by a fixtures
// payload, deduplicated by id. The poll jobs upsert them so tick rows
// always join to names.
type Dimensions struct {
	Leagues []domain.League
	Teams   []domain.Team
	Venues  []domain.Venue
}

// normalizeDimensions collects dimension rows out of a fixtures payload.
// Malformed entries are skipped silently; normalizeFixtures already
// counts them against the batch.
func normalizeDimensions(raw json.RawMessage) Dimensions {
	var items []fixtureItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return Dimensions{}
	}

	var dims Dimensions
	leagues := make(map[int64]bool)
	teams := make(map[int64]bool)
	venues := make(map[int64]bool)
	for _, item := range items {
		if id := item.League.ID; id != 0 && !leagues[id] {
			leagues[id] = true
			dims.Leagues = append(dims.Leagues, domain.League{
				ID:      id,
				Name:    item.League.Name,
				Country: item.League.Country,
				Logo:    item.League.Logo,
			})
		}
		for _, team := range []ref{item.Teams.Home, item.Teams.Away} {
			if team.ID != 0 && !teams[team.ID] {
				teams[team.ID] = true
				dims.Teams = append(dims.Teams, domain.Team{ID: team.ID, Name: team.Name})
			}
		}
		v := item.Fixture.Venue
		if v.ID != nil && *v.ID != 0 && v.Name != nil && !venues[*v.ID] {
			venues[*v.ID] = true
			venue := domain.Venue{ID: *v.ID, Name: *v.Name}
			if v.City != nil {
				venue.City = *v.City
			}
			dims.Venues = append(dims.Venues, venue)
		}
	}
	return dims
}

func intPtr(v float64) *int {
	n := int(v)
	return &n
}

func floatPtr(v float64) *float64 { return &v }

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

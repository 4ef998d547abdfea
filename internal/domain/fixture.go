package domain

import "time"

// Status is the provider's short code for a fixture's lifecycle state.
type Status string

const (
	StatusTBD  Status = "TBD"
	StatusNS   Status = "NS"
	Status1H   Status = "1H"
	StatusHT   Status = "HT"
	Status2H   Status = "2H"
	StatusET   Status = "ET"
	StatusBT   Status = "BT"
	StatusP    Status = "P"
	StatusSUSP Status = "SUSP"
	StatusINT  Status = "INT"
	StatusFT   Status = "FT"
	StatusAET  Status = "AET"
	StatusPEN  Status = "PEN"
	StatusPST  Status = "PST"
	StatusCANC Status = "CANC"
	StatusABD  Status = "ABD"
	StatusAWD  Status = "AWD"
	StatusWO   Status = "WO"
)

// LiveStatuses is the in-play subset. Fixtures in these states are polled.
var LiveStatuses = []Status{Status1H, StatusHT, Status2H, StatusET, StatusBT, StatusP}

// FinishedStatuses marks matches that reached a result.
var FinishedStatuses = []Status{StatusFT, StatusAET, StatusPEN, StatusAWD, StatusWO}

// TerminalStatuses marks matches that will never receive another tick:
// finished plus postponed, cancelled and abandoned.
var TerminalStatuses = []Status{
	StatusFT, StatusAET, StatusPEN, StatusAWD, StatusWO,
	StatusPST, StatusCANC, StatusABD,
}

func statusIn(s Status, set []Status) bool {
	for _, c := range set {
		if s == c {
			return true
		}
	}
	return false
}

// IsLive reports whether the status is in the in-play subset.
func (s Status) IsLive() bool { return statusIn(s, LiveStatuses) }

// IsFinished reports whether the match reached a result.
func (s Status) IsFinished() bool { return statusIn(s, FinishedStatuses) }

// IsTerminal reports whether the fixture can never go live again.
func (s Status) IsTerminal() bool { return statusIn(s, TerminalStatuses) }

// Fixture is one scheduled match, keyed by the provider's integer id.
type Fixture struct {
	ID         int64      `db:"id" json:"id"`
	LeagueID   int64      `db:"league_id" json:"league_id"`
	SeasonYear int        `db:"season_year" json:"season_year"`
	Round      string     `db:"round" json:"round,omitempty"`
	VenueID    *int64     `db:"venue_id" json:"venue_id,omitempty"`
	Referee    string     `db:"referee" json:"referee,omitempty"`
	Kickoff    time.Time  `db:"kickoff" json:"kickoff"`
	Timezone   string     `db:"timezone" json:"timezone,omitempty"`
	HomeTeamID int64      `db:"home_team_id" json:"home_team_id"`
	AwayTeamID int64      `db:"away_team_id" json:"away_team_id"`
	Status     Status     `db:"status" json:"status"`
	Elapsed    *int       `db:"elapsed" json:"elapsed,omitempty"`
	HomeGoals  *int       `db:"home_goals" json:"home_goals,omitempty"`
	AwayGoals  *int       `db:"away_goals" json:"away_goals,omitempty"`
	HTHome     *int       `db:"ht_home" json:"ht_home,omitempty"`
	HTAway     *int       `db:"ht_away" json:"ht_away,omitempty"`
	ETHome     *int       `db:"et_home" json:"et_home,omitempty"`
	ETAway     *int       `db:"et_away" json:"et_away,omitempty"`
	PenHome    *int       `db:"pen_home" json:"pen_home,omitempty"`
	PenAway    *int       `db:"pen_away" json:"pen_away,omitempty"`
	Finalized  bool       `db:"finalized" json:"finalized"`
	UpdatedAt  time.Time  `db:"updated_at" json:"updated_at"`
	FinishedAt *time.Time `db:"finished_at" json:"finished_at,omitempty"`
}

// League is a competition dimension row.
type League struct {
	ID      int64  `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Country string `db:"country" json:"country,omitempty"`
	Type    string `db:"type" json:"type,omitempty"`
	Logo    string `db:"logo" json:"logo,omitempty"`
}

// Team is a club dimension row.
type Team struct {
	ID      int64  `db:"id" json:"id"`
	Name    string `db:"name" json:"name"`
	Country string `db:"country" json:"country,omitempty"`
	Code    string `db:"code" json:"code,omitempty"`
	Logo    string `db:"logo" json:"logo,omitempty"`
}

// Venue is a stadium dimension row.
type Venue struct {
	ID       int64  `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	City     string `db:"city" json:"city,omitempty"`
	Capacity *int   `db:"capacity" json:"capacity,omitempty"`
}

package upstream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// envelope is the provider's common response wrapper. Every endpoint
// returns {get, parameters, errors, results, paging, response}; only
// the parts the pipeline needs are decoded, unknown fields fall away.
type envelope struct {
	Get      string          `json:"get"`
	Errors   json.RawMessage `json:"errors"`
	Results  int             `json:"results"`
	Paging   paging          `json:"paging"`
	Response json.RawMessage `json:"response"`
}

type paging struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// apiErrors extracts provider-reported errors. The field is [] when
// clean and an object or array of messages when the request was bad.
func (e *envelope) apiErrors() []string {
	raw := bytes.TrimSpace(e.Errors)
	if len(raw) == 0 || bytes.Equal(raw, []byte("[]")) || bytes.Equal(raw, []byte("{}")) || bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var asMap map[string]string
	if err := json.Unmarshal(raw, &asMap); err == nil {
		msgs := make([]string, 0, len(asMap))
		for k, v := range asMap {
			msgs = append(msgs, fmt.Sprintf("%s: %s", k, v))
		}
		return msgs
	}

	var asList []string
	if err := json.Unmarshal(raw, &asList); err == nil {
		return asList
	}
	return []string{string(raw)}
}

// ref is the ubiquitous {id, name} pair in provider payloads.
type ref struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// fixtureItem is one entry of GET /fixtures.
type fixtureItem struct {
	Fixture struct {
		ID       int64   `json:"id"`
		Referee  *string `json:"referee"`
		Timezone string  `json:"timezone"`
		Date     string  `json:"date"`
		Venue    struct {
			ID   *int64  `json:"id"`
			Name *string `json:"name"`
			City *string `json:"city"`
		} `json:"venue"`
		Status struct {
			Short   string `json:"short"`
			Long    string `json:"long"`
			Elapsed *int   `json:"elapsed"`
		} `json:"status"`
	} `json:"fixture"`
	League struct {
		ID      int64  `json:"id"`
		Name    string `json:"name"`
		Country string `json:"country"`
		Logo    string `json:"logo"`
		Season  int    `json:"season"`
		Round   string `json:"round"`
	} `json:"league"`
	Teams struct {
		Home ref `json:"home"`
		Away ref `json:"away"`
	} `json:"teams"`
	Goals struct {
		Home *int `json:"home"`
		Away *int `json:"away"`
	} `json:"goals"`
	Score struct {
		Halftime struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"halftime"`
		Fulltime struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"fulltime"`
		Extratime struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"extratime"`
		Penalty struct {
			Home *int `json:"home"`
			Away *int `json:"away"`
		} `json:"penalty"`
	} `json:"score"`
}

// betValues is one market's outcome list. Odds arrive as strings like
// "2.10" but some payloads carry bare numbers, so the value stays raw
// until normalization.
type betValues struct {
	ID     int64      `json:"id"`
	Name   string     `json:"name"`
	Values []betValue `json:"values"`
}

type betValue struct {
	Value string          `json:"value"`
	Odd   json.RawMessage `json:"odd"`
}

// liveOddsItem is one entry of GET /odds/live: a flat bookmaker with
// its current in-play markets.
type liveOddsItem struct {
	Fixture struct {
		ID     int64 `json:"id"`
		Status struct {
			Elapsed *int `json:"elapsed"`
		} `json:"status"`
	} `json:"fixture"`
	Bookmaker ref         `json:"bookmaker"`
	Bets      []betValues `json:"bets"`
}

// prematchOddsItem is one entry of GET /odds: bookmakers nested per
// fixture, each with its markets.
type prematchOddsItem struct {
	Fixture struct {
		ID   int64  `json:"id"`
		Date string `json:"date"`
	} `json:"fixture"`
	Bookmakers []struct {
		ID   int64       `json:"id"`
		Name string      `json:"name"`
		Bets []betValues `json:"bets"`
	} `json:"bookmakers"`
}

// eventItem is one entry of GET /fixtures/events.
type eventItem struct {
	Time struct {
		Elapsed *int `json:"elapsed"`
		Extra   *int `json:"extra"`
	} `json:"time"`
	Team    ref     `json:"team"`
	Player  ref     `json:"player"`
	Assist  ref     `json:"assist"`
	Type    string  `json:"type"`
	Detail  string  `json:"detail"`
	Comment *string `json:"comments"`
}

// statsItem is one entry of GET /fixtures/statistics: a team with its
// loosely typed {type, value} stat list.
type statsItem struct {
	Team       ref `json:"team"`
	Statistics []struct {
		Type  string          `json:"type"`
		Value json.RawMessage `json:"value"`
	} `json:"statistics"`
}

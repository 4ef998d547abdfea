package ops

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/sched"
)

// handleJobs lists the catalog.
func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.deps.Jobs.Jobs(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

type jobPatch struct {
	Enabled  *bool   `json:"enabled"`
	Schedule *string `json:"schedule"`
}

// handleJobPatch toggles or reschedules one job. A schedule change is
// validated against the job's kind before it lands; the dispatcher
// picks either change up on its next tick.
func (s *Server) handleJobPatch(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	var patch jobPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	if patch.Enabled == nil && patch.Schedule == nil {
		writeError(w, http.StatusBadRequest, "nothing to change")
		return
	}

	job, err := s.deps.Jobs.Job(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job == nil {
		writeError(w, http.StatusNotFound, "no such job")
		return
	}

	if patch.Schedule != nil {
		if _, err := sched.ParseSchedule(job.Kind, *patch.Schedule); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		if job, err = s.deps.Jobs.SetSchedule(r.Context(), name, *patch.Schedule); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if patch.Enabled != nil {
		if job, err = s.deps.Jobs.SetEnabled(r.Context(), name, *patch.Enabled); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, job)
}

// handleRuns lists recent run history for one job.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	job := r.URL.Query().Get("job")
	if job == "" {
		writeError(w, http.StatusBadRequest, "job parameter is required")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be 1..500")
			return
		}
		limit = n
	}

	runs, err := s.deps.Jobs.RecentRuns(r.Context(), job, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

type leaguesView struct {
	LeagueIDs  []int64 `json:"league_ids"`
	Overridden bool    `json:"overridden"`
	Version    int64   `json:"version"`
}

// handleLeaguesGet reports the effective enabled-league set. An empty
// list means curation is off and every league is ingested.
func (s *Server) handleLeaguesGet(w http.ResponseWriter, r *http.Request) {
	view := leaguesView{LeagueIDs: []int64{}}
	if s.deps.Snapshot != nil {
		snap := s.deps.Snapshot.Current()
		view.Version = snap.Version
		for id := range snap.EnabledLeagues {
			view.LeagueIDs = append(view.LeagueIDs, id)
		}
		sort.Slice(view.LeagueIDs, func(i, j int) bool { return view.LeagueIDs[i] < view.LeagueIDs[j] })
	}

	_, ok, err := s.deps.Jobs.GetConfig(r.Context(), sched.ConfigKeyLeagues)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	view.Overridden = ok
	writeJSON(w, http.StatusOK, view)
}

// handleLeaguesPut stores the league override. The scheduler folds it
// into the next snapshot, so the change is visible within one tick.
func (s *Server) handleLeaguesPut(w http.ResponseWriter, r *http.Request) {
	var ov sched.LeaguesOverride
	if err := json.NewDecoder(r.Body).Decode(&ov); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	for _, id := range ov.LeagueIDs {
		if id <= 0 {
			writeError(w, http.StatusUnprocessableEntity, "league ids must be positive")
			return
		}
	}

	raw, err := json.Marshal(ov)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.deps.Jobs.SetConfig(r.Context(), sched.ConfigKeyLeagues, raw); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, ov)
}

type intervalsView struct {
	Odds       string `json:"odds"`
	Events     string `json:"events"`
	Stats      string `json:"stats"`
	Overridden bool   `json:"overridden"`
	Version    int64  `json:"version"`
}

// handleIntervalsGet reports the effective per-kind pull cadences.
func (s *Server) handleIntervalsGet(w http.ResponseWriter, r *http.Request) {
	var view intervalsView
	if s.deps.Snapshot != nil {
		snap := s.deps.Snapshot.Current()
		view.Version = snap.Version
		view.Odds = snap.Interval(domain.KindOdds).String()
		view.Events = snap.Interval(domain.KindEvents).String()
		view.Stats = snap.Interval(domain.KindStats).String()
	}

	_, ok, err := s.deps.Jobs.GetConfig(r.Context(), sched.ConfigKeyIntervals)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	view.Overridden = ok
	writeJSON(w, http.StatusOK, view)
}

// handleIntervalsPut stores the cadence override. Each field is a
// duration string; empty fields leave that kind's cadence alone.
func (s *Server) handleIntervalsPut(w http.ResponseWriter, r *http.Request) {
	var ov sched.IntervalsOverride
	if err := json.NewDecoder(r.Body).Decode(&ov); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body: "+err.Error())
		return
	}
	for name, v := range map[string]string{"odds": ov.Odds, "events": ov.Events, "stats": ov.Stats} {
		if v == "" {
			continue
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, name+": "+err.Error())
			return
		}
		if d < time.Second {
			writeError(w, http.StatusUnprocessableEntity, name+": interval must be at least 1s")
			return
		}
	}

	raw, err := json.Marshal(ov)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.deps.Jobs.SetConfig(r.Context(), sched.ConfigKeyIntervals, raw); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, ov)
}

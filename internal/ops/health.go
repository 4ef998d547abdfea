package ops

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/footybrain/footyd/internal/domain"
	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/stream"
	"github.com/footybrain/footyd/internal/upstream"
)

const (
	statusOK       = "ok"
	statusDegraded = "degraded"
	statusDown     = "down"
)

type dbHealth struct {
	Up        bool   `json:"up"`
	InUse     int    `json:"in_use"`
	MaxOpen   int    `json:"max_open"`
	WaitCount int64  `json:"wait_count"`
	Error     string `json:"error,omitempty"`
}

type healthReport struct {
	Status    string    `json:"status"`
	CheckedAt time.Time `json:"checked_at"`

	Database dbHealth                 `json:"database"`
	Bus      *stream.HealthStatus     `json:"bus,omitempty"`
	Governor *upstream.GovernorStats  `json:"governor,omitempty"`
	Queues   map[string]int           `json:"queues,omitempty"`
	Fanout   *FanoutStats             `json:"fanout,omitempty"`

	FramesLagSeconds float64                      `json:"frames_lag_seconds"`
	IngestLatency    map[string]metrics.Quantiles `json:"ingest_latency,omitempty"`
	RSSMB            uint64                       `json:"rss_mb"`
}

// handleHealth reports the daemon's posture. The database is the one
// dependency the pipeline cannot limp without, so only it drives the
// 503; everything else can only degrade the verdict.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := healthReport{
		Status:    statusOK,
		CheckedAt: time.Now().UTC(),
	}

	if s.deps.DB != nil {
		pingCtx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		err := s.deps.DB.PingContext(pingCtx)
		cancel()
		st := s.deps.DB.Stats()
		report.Database = dbHealth{
			Up:        err == nil,
			InUse:     st.InUse,
			MaxOpen:   st.MaxOpenConnections,
			WaitCount: st.WaitCount,
		}
		if err != nil {
			report.Database.Error = err.Error()
			report.Status = statusDown
		}
	} else {
		report.Database = dbHealth{Up: false, Error: "not configured"}
		report.Status = statusDown
	}

	if s.deps.Bus != nil {
		bh := s.deps.Bus.Health()
		report.Bus = &bh
		if !bh.Healthy && report.Status == statusOK {
			report.Status = statusDegraded
		}
	}
	if s.deps.Governor != nil {
		gs := s.deps.Governor()
		report.Governor = &gs
	}
	if s.deps.Queues != nil {
		report.Queues = s.deps.Queues()
	}
	if s.deps.Fanout != nil {
		fs := s.deps.Fanout()
		report.Fanout = &fs
	}

	if m := s.deps.Metrics; m != nil {
		report.FramesLagSeconds = metrics.GaugeValue(m.FramesLagSeconds)
		report.IngestLatency = map[string]metrics.Quantiles{
			string(domain.KindOdds):   m.LatencyQuantiles(string(domain.KindOdds)),
			string(domain.KindEvents): m.LatencyQuantiles(string(domain.KindEvents)),
			string(domain.KindStats):  m.LatencyQuantiles(string(domain.KindStats)),
		}
	}
	report.RSSMB = selfRSSMB()

	code := http.StatusOK
	if report.Status == statusDown {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, report)
}

func selfRSSMB() uint64 {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	mi, err := p.MemoryInfo()
	if err != nil {
		return 0
	}
	return mi.RSS / (1 << 20)
}

package metrics

import (
	"net/http"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Registry holds every Prometheus metric the pipeline emits. One
// instance is shared by the client, store, loop, scheduler and bridge;
// tests construct their own so collectors never collide.
type Registry struct {
	reg *prometheus.Registry

	// Write path
	TicksWritten      *prometheus.CounterVec
	TicksDeduped      *prometheus.CounterVec
	ValidationDropped *prometheus.CounterVec
	IngestLatency     *prometheus.HistogramVec

	// Upstream client
	PullDuration        *prometheus.HistogramVec
	RateStalled         prometheus.Counter
	UpstreamUnavailable prometheus.Counter
	UpstreamRejected    prometheus.Counter
	UpstreamMalformed   prometheus.Counter

	// Live loop
	LiveFixtures   prometheus.Gauge
	PullsScheduled *prometheus.CounterVec
	CooldownsOpen  prometheus.Gauge

	// Frames
	FramesMaterialized prometheus.Counter
	LateTicksDropped   prometheus.Counter
	FramesLagSeconds   prometheus.Gauge

	// Scheduler
	QueueDepth   *prometheus.GaugeVec
	QueueDropped *prometheus.CounterVec
	JobRuns      *prometheus.CounterVec

	// Fan-out
	NotesPublished *prometheus.CounterVec
	Subscribers    prometheus.Gauge
	SlowConsumers  prometheus.Counter
	CatchupServed  *prometheus.CounterVec

	// Storage pool
	PoolInUse prometheus.Gauge
	PoolMax   prometheus.Gauge
}

// New builds a registry with all pipeline metrics registered.
func New() *Registry {
	m := &Registry{
		reg: prometheus.NewRegistry(),

		TicksWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "footyd_ticks_written_total",
				Help: "Tick rows stored, by kind",
			},
			[]string{"kind"},
		),
		TicksDeduped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "footyd_ticks_deduped_total",
				Help: "Tick rows skipped by natural-key dedup, by kind",
			},
			[]string{"kind"},
		),
		ValidationDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "footyd_validation_dropped_total",
				Help: "Rows dropped before storage, by kind and reason",
			},
			[]string{"kind", "reason"},
		),
		IngestLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "footyd_ingest_latency_seconds",
				Help:    "Observation-to-storage latency, by kind",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"kind"},
		),

		PullDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "footyd_pull_duration_seconds",
				Help:    "Upstream pull duration including permit wait, by kind",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
			},
			[]string{"kind"},
		),
		RateStalled: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "footyd_rate_stalled_total",
				Help: "Pulls abandoned because no rate permit arrived in time",
			},
		),
		UpstreamUnavailable: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "footyd_upstream_unavailable_total",
				Help: "Pulls that exhausted their retry budget",
			},
		),
		UpstreamRejected: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "footyd_upstream_rejected_total",
				Help: "Pulls refused by the provider with a non-429 4xx",
			},
		),
		UpstreamMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "footyd_upstream_malformed_total",
				Help: "Payloads that failed shape validation",
			},
		),

		LiveFixtures: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "footyd_live_fixtures",
				Help: "Fixtures currently in a live status",
			},
		),
		PullsScheduled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "footyd_pulls_scheduled_total",
				Help: "Pulls submitted to the live worker pool, by kind",
			},
			[]string{"kind"},
		),
		CooldownsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "footyd_cooldowns_open",
				Help: "(fixture, kind) pairs currently excluded after repeated failures",
			},
		),

		FramesMaterialized: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "footyd_frames_materialized_total",
				Help: "Frame rows upserted",
			},
		),
		LateTicksDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "footyd_late_ticks_dropped_total",
				Help: "Ticks that arrived after their frame window closed",
			},
		),
		FramesLagSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "footyd_frames_lag_seconds",
				Help: "Distance between now and the newest materialized window",
			},
		),

		QueueDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "footyd_queue_depth",
				Help: "Messages waiting per queue",
			},
			[]string{"queue"},
		),
		QueueDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "footyd_queue_dropped_total",
				Help: "Messages dropped per queue, by reason (ttl, full)",
			},
			[]string{"queue", "reason"},
		),
		JobRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "footyd_job_runs_total",
				Help: "Job runs by name and terminal state",
			},
			[]string{"job", "state"},
		),

		NotesPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "footyd_notes_published_total",
				Help: "Change notes published, by type",
			},
			[]string{"type"},
		),
		Subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "footyd_subscribers",
				Help: "Connected fan-out subscribers",
			},
		),
		SlowConsumers: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "footyd_slow_consumers_total",
				Help: "Subscribers disconnected for not keeping up",
			},
		),
		CatchupServed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "footyd_catchup_served_total",
				Help: "Catch-up requests served, by source (ring, store) or refused",
			},
			[]string{"source"},
		),

		PoolInUse: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "footyd_db_pool_in_use",
				Help: "Open connections currently in use",
			},
		),
		PoolMax: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "footyd_db_pool_max",
				Help: "Configured pool ceiling",
			},
		),
	}

	m.reg.MustRegister(
		m.TicksWritten, m.TicksDeduped, m.ValidationDropped, m.IngestLatency,
		m.PullDuration, m.RateStalled, m.UpstreamUnavailable, m.UpstreamRejected, m.UpstreamMalformed,
		m.LiveFixtures, m.PullsScheduled, m.CooldownsOpen,
		m.FramesMaterialized, m.LateTicksDropped, m.FramesLagSeconds,
		m.QueueDepth, m.QueueDropped, m.JobRuns,
		m.NotesPublished, m.Subscribers, m.SlowConsumers, m.CatchupServed,
		m.PoolInUse, m.PoolMax,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Quantiles approximates the requested quantiles of a histogram from
// its cumulative buckets, for the health probe's lag report.
type Quantiles struct {
	Count float64 `json:"count"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// LatencyQuantiles reads the ingest-latency histogram for one kind out
// of the gathered families. Zero values mean no observations yet.
func (m *Registry) LatencyQuantiles(kind string) Quantiles {
	families, err := m.reg.Gather()
	if err != nil {
		return Quantiles{}
	}
	for _, fam := range families {
		if fam.GetName() != "footyd_ingest_latency_seconds" {
			continue
		}
		for _, metric := range fam.GetMetric() {
			if !metricHasLabel(metric, "kind", kind) {
				continue
			}
			h := metric.GetHistogram()
			if h == nil || h.GetSampleCount() == 0 {
				return Quantiles{}
			}
			return Quantiles{
				Count: float64(h.GetSampleCount()),
				P50:   bucketQuantile(h, 0.50),
				P95:   bucketQuantile(h, 0.95),
				P99:   bucketQuantile(h, 0.99),
			}
		}
	}
	return Quantiles{}
}

func metricHasLabel(m *dto.Metric, name, value string) bool {
	for _, l := range m.GetLabel() {
		if l.GetName() == name && l.GetValue() == value {
			return true
		}
	}
	return false
}

// bucketQuantile walks cumulative histogram buckets and returns the
// upper bound of the bucket containing the quantile.
func bucketQuantile(h *dto.Histogram, q float64) float64 {
	target := q * float64(h.GetSampleCount())
	buckets := h.GetBucket()
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].GetUpperBound() < buckets[j].GetUpperBound()
	})
	for _, b := range buckets {
		if float64(b.GetCumulativeCount()) >= target {
			return b.GetUpperBound()
		}
	}
	if n := len(buckets); n > 0 {
		return buckets[n-1].GetUpperBound()
	}
	return 0
}

// CounterValue reads one counter's current value for the health probe.
func CounterValue(c prometheus.Counter) float64 {
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		return 0
	}
	return m.GetCounter().GetValue()
}

// GaugeValue reads one gauge's current value for the health probe.
func GaugeValue(g prometheus.Gauge) float64 {
	var m dto.Metric
	if err := g.Write(&m); err != nil {
		return 0
	}
	return m.GetGauge().GetValue()
}

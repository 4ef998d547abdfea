package sched

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/footybrain/footyd/internal/metrics"
	"github.com/footybrain/footyd/internal/persistence"
)

// Handler is one job body. The context carries the run's hard limit;
// a handler that outlives it is abandoned and its run marked timed out.
type Handler func(ctx context.Context) error

const defaultTick = time.Second

// Dispatcher owns the job catalog's runtime: it re-reads the catalog
// every tick, computes due instants per job, records run rows and
// feeds typed queues drained by dedicated workers. Catalog edits
// (enable, disable, reschedule) take effect within one tick because
// nothing is cached past it except parsed schedules.
type Dispatcher struct {
	jobs    persistence.JobRepo
	metrics *metrics.Registry
	queues  map[string]*queue

	tick      time.Duration
	retryBase time.Duration
	now       func() time.Time

	handlers map[string]Handler
	onTick   []func(ctx context.Context)

	mu      sync.Mutex
	closed  bool
	nextDue map[string]time.Time
	parsed  map[string]Schedule
	specs   map[string]string

	wg sync.WaitGroup
}

// NewDispatcher builds a dispatcher over the given lanes. Handlers are
// bound afterwards with Register; jobs without one are cancelled at
// dispatch rather than silently skipped, so a missing binding is
// visible in the run history.
func NewDispatcher(jobs persistence.JobRepo, m *metrics.Registry, specs []QueueSpec) *Dispatcher {
	queues := make(map[string]*queue, len(specs))
	for _, s := range specs {
		queues[s.Name] = newQueue(s)
	}
	return &Dispatcher{
		jobs:      jobs,
		metrics:   m,
		queues:    queues,
		tick:      defaultTick,
		retryBase: 5 * time.Second,
		now:       time.Now,
		handlers:  make(map[string]Handler),
		nextDue:   make(map[string]time.Time),
		parsed:    make(map[string]Schedule),
		specs:     make(map[string]string),
	}
}

// Register binds a catalog job name to its body.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// OnTick adds a callback run once per dispatch tick, after due jobs
// are queued. The runtime config refresher hangs off this.
func (d *Dispatcher) OnTick(fn func(ctx context.Context)) {
	d.onTick = append(d.onTick, fn)
}

// QueueDepths reports the current backlog per lane.
func (d *Dispatcher) QueueDepths() map[string]int {
	out := make(map[string]int, len(d.queues))
	for name, q := range d.queues {
		out[name] = len(q.tasks)
	}
	return out
}

// Run drives the dispatch loop until the context ends, then closes the
// lanes and waits for in-flight runs. Running handlers keep their own
// deadline through a detached context, so a drain lasts at most the
// longest remaining hard limit.
func (d *Dispatcher) Run(ctx context.Context) error {
	for _, q := range d.queues {
		for i := 0; i < q.workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx, q)
		}
	}

	ticker := time.NewTicker(d.tick)
	defer ticker.Stop()

	log.Info().Int("queues", len(d.queues)).Dur("tick", d.tick).Msg("Dispatcher running")
	for {
		select {
		case <-ctx.Done():
			d.mu.Lock()
			d.closed = true
			for _, q := range d.queues {
				close(q.tasks)
			}
			d.mu.Unlock()
			d.wg.Wait()
			log.Info().Msg("Dispatcher drained")
			return ctx.Err()
		case <-ticker.C:
			d.dispatchDue(ctx)
			for _, fn := range d.onTick {
				fn(ctx)
			}
		}
	}
}

// dispatchDue reloads the catalog, advances due instants and queues
// every job whose time has come, highest priority first.
func (d *Dispatcher) dispatchDue(ctx context.Context) {
	jobs, err := d.jobs.Jobs(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to load job catalog")
		return
	}
	now := d.now().UTC()

	var due []persistence.Job
	d.mu.Lock()
	for _, job := range jobs {
		if !job.Enabled {
			// Re-enabling starts a fresh cadence.
			delete(d.nextDue, job.Name)
			continue
		}
		sched := d.scheduleFor(job)
		if sched == nil {
			continue
		}
		nd, ok := d.nextDue[job.Name]
		if !ok {
			if job.Kind == persistence.JobInterval {
				// Interval jobs fire on first sighting; cron jobs wait
				// for their boundary.
				nd = now
			} else {
				nd = sched.Next(now)
			}
			d.nextDue[job.Name] = nd
		}
		if nd.IsZero() || nd.After(now) {
			continue
		}
		due = append(due, job)
		d.nextDue[job.Name] = sched.Next(now)
	}
	d.mu.Unlock()

	sort.Slice(due, func(i, j int) bool { return due[i].Priority > due[j].Priority })
	for _, job := range due {
		d.enqueue(ctx, job, 1, now)
	}
}

// scheduleFor returns the parsed schedule, reparsing only when the
// catalog text changed. A bad expression idles the job and is logged
// once per edit. Caller holds d.mu.
func (d *Dispatcher) scheduleFor(job persistence.Job) Schedule {
	if cached, ok := d.specs[job.Name]; ok && cached == job.Schedule {
		return d.parsed[job.Name]
	}
	d.specs[job.Name] = job.Schedule
	delete(d.nextDue, job.Name)

	sched, err := ParseSchedule(job.Kind, job.Schedule)
	if err != nil {
		log.Error().Str("job", job.Name).Str("schedule", job.Schedule).Err(err).
			Msg("Unusable schedule, job idled")
		d.parsed[job.Name] = nil
		return nil
	}
	d.parsed[job.Name] = sched
	return sched
}

// enqueue records a PENDING run and offers it to the job's lane. A
// full lane cancels the run immediately; the fire is lost, not
// deferred, because a later duplicate would describe a stale world.
func (d *Dispatcher) enqueue(ctx context.Context, job persistence.Job, attempt int, now time.Time) {
	run := persistence.JobRun{
		ID:         uuid.NewString(),
		Job:        job.Name,
		State:      persistence.RunPending,
		Attempt:    attempt,
		EnqueuedAt: now,
	}
	if err := d.jobs.InsertRun(ctx, run); err != nil {
		log.Error().Str("job", job.Name).Err(err).Msg("Failed to record run, fire skipped")
		return
	}

	handler, ok := d.handlers[job.Name]
	if !ok {
		d.finishRun(ctx, run, persistence.RunCancelled, "no handler registered")
		return
	}
	q, ok := d.queues[job.Queue]
	if !ok {
		d.finishRun(ctx, run, persistence.RunCancelled, fmt.Sprintf("unknown queue %q", job.Queue))
		return
	}

	t := &task{job: job, run: run, handler: handler}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.finishRun(ctx, run, persistence.RunCancelled, "shutting down")
		return
	}
	select {
	case q.tasks <- t:
		d.metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.tasks)))
	default:
		d.metrics.QueueDropped.WithLabelValues(q.name, "full").Inc()
		d.finishRun(ctx, run, persistence.RunCancelled, "queue full")
	}
}

func (d *Dispatcher) worker(ctx context.Context, q *queue) {
	defer d.wg.Done()
	for t := range q.tasks {
		d.metrics.QueueDepth.WithLabelValues(q.name).Set(float64(len(q.tasks)))
		if q.ttl > 0 && d.now().UTC().Sub(t.run.EnqueuedAt) > q.ttl {
			d.metrics.QueueDropped.WithLabelValues(q.name, "ttl").Inc()
			d.finishRun(ctx, t.run, persistence.RunCancelled, "expired in queue")
			continue
		}
		d.execute(ctx, t)
	}
}

// execute runs one job body under its hard limit and records the
// terminal state. The run context is detached from the dispatcher's
// so shutdown does not chop a run mid-write; the hard limit still
// bounds it.
func (d *Dispatcher) execute(ctx context.Context, t *task) {
	started := d.now().UTC()
	t.run.State = persistence.RunRunning
	t.run.StartedAt = &started
	if err := d.jobs.UpdateRun(ctx, t.run); err != nil {
		log.Error().Str("run", t.run.ID).Err(err).Msg("Failed to mark run running")
	}

	runCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if t.job.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(runCtx, t.job.Timeout)
		defer cancel()
	}

	if t.job.SoftLimit > 0 {
		soft := time.AfterFunc(t.job.SoftLimit, func() {
			log.Warn().Str("job", t.job.Name).Str("run", t.run.ID).
				Dur("soft_limit", t.job.SoftLimit).Msg("Run past its soft limit")
		})
		defer soft.Stop()
	}

	err := t.handler(runCtx)

	state := persistence.RunSucceeded
	msg := ""
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded) || runCtx.Err() != nil:
		state = persistence.RunTimedOut
		msg = "hard limit exceeded"
	case errors.Is(err, context.Canceled):
		state = persistence.RunCancelled
		msg = err.Error()
	default:
		state = persistence.RunFailed
		msg = err.Error()
	}
	d.finishRun(ctx, t.run, state, msg)

	if state == persistence.RunFailed || state == persistence.RunTimedOut {
		d.maybeRetry(ctx, t)
	}
}

// maybeRetry schedules a fresh attempt with exponential backoff while
// the job's retry budget lasts.
func (d *Dispatcher) maybeRetry(ctx context.Context, t *task) {
	if t.run.Attempt > t.job.Retries {
		return
	}
	delay := d.retryBase << uint(t.run.Attempt-1)
	attempt := t.run.Attempt + 1
	job := t.job
	base := context.WithoutCancel(ctx)
	log.Info().Str("job", job.Name).Int("attempt", attempt).Dur("delay", delay).
		Msg("Retry scheduled")
	time.AfterFunc(delay, func() {
		d.enqueue(base, job, attempt, d.now().UTC())
	})
}

// finishRun writes a terminal state and counts it.
func (d *Dispatcher) finishRun(ctx context.Context, run persistence.JobRun, state persistence.RunState, msg string) {
	now := d.now().UTC()
	run.State = state
	run.FinishedAt = &now
	run.Error = msg
	if err := d.jobs.UpdateRun(ctx, run); err != nil {
		log.Error().Str("run", run.ID).Str("state", string(state)).Err(err).
			Msg("Failed to record run state")
	}
	d.metrics.JobRuns.WithLabelValues(run.Job, string(state)).Inc()
}

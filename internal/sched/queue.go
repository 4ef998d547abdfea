package sched

import (
	"time"

	"github.com/footybrain/footyd/internal/persistence"
)

// Queue names referenced by the catalog.
const (
	QueueLive        = "live"
	QueueFixtures    = "fixtures"
	QueuePrematch    = "prematch"
	QueueFrames      = "frames"
	QueueFinalizer   = "finalizer"
	QueueMaintenance = "maintenance"
)

// QueueSpec declares one dispatch lane: how much backlog it tolerates,
// how long a queued run stays worth executing, and how many workers
// drain it.
type QueueSpec struct {
	Name    string
	Depth   int
	TTL     time.Duration
	Workers int
}

// DefaultQueues returns the lanes the catalog routes into. Live work is
// perishable: a trigger older than its own cadence describes a world
// that no longer exists, so its TTL is short and its backlog shallow.
func DefaultQueues() []QueueSpec {
	return []QueueSpec{
		{Name: QueueLive, Depth: 4, TTL: 25 * time.Second, Workers: 1},
		{Name: QueueFrames, Depth: 4, TTL: 55 * time.Second, Workers: 1},
		{Name: QueueFixtures, Depth: 8, TTL: 10 * time.Minute, Workers: 1},
		{Name: QueuePrematch, Depth: 8, TTL: 30 * time.Minute, Workers: 1},
		{Name: QueueFinalizer, Depth: 8, TTL: 10 * time.Minute, Workers: 1},
		{Name: QueueMaintenance, Depth: 8, TTL: time.Hour, Workers: 1},
	}
}

// task is one queued execution with everything its worker needs.
type task struct {
	job     persistence.Job
	run     persistence.JobRun
	handler Handler
}

// queue is one lane's runtime state.
type queue struct {
	name    string
	ttl     time.Duration
	workers int
	tasks   chan *task
}

func newQueue(spec QueueSpec) *queue {
	depth := spec.Depth
	if depth <= 0 {
		depth = 1
	}
	workers := spec.Workers
	if workers <= 0 {
		workers = 1
	}
	return &queue{
		name:    spec.Name,
		ttl:     spec.TTL,
		workers: workers,
		tasks:   make(chan *task, depth),
	}
}

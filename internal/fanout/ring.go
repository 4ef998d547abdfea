package fanout

import (
	"sort"
	"sync"

	"github.com/footybrain/footyd/internal/domain"
)

// ring is a fixed-size replay window over one (fixture, type) note
// stream, indexed by sequence number. It answers most catch-ups without
// touching the note log.
type ring struct {
	mu     sync.Mutex
	slots  []domain.Note
	newest int64
}

func newRing(size int) *ring {
	if size <= 0 {
		size = 256
	}
	return &ring{slots: make([]domain.Note, size)}
}

// add records a delivered note. Sequences only move forward; an old
// note re-delivered after a wrap must not shadow a newer one in its
// slot.
func (r *ring) add(n domain.Note) {
	r.mu.Lock()
	defer r.mu.Unlock()
	idx := n.Seq % int64(len(r.slots))
	if cur := r.slots[idx]; cur.Seq > n.Seq {
		return
	}
	r.slots[idx] = n
	if n.Seq > r.newest {
		r.newest = n.Seq
	}
}

// since returns the notes after the given sequence when the ring still
// holds every one of them. complete=false means the window has moved
// on (or never covered the range) and the store must serve the replay.
func (r *ring) since(after int64) ([]domain.Note, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.newest == 0 {
		// An empty ring proves nothing about what was published before
		// this process started.
		return nil, false
	}
	if after >= r.newest {
		// Nothing newer here; a claim past our newest may still be
		// resolvable from the store after a restart.
		return nil, after == r.newest
	}

	size := int64(len(r.slots))
	if r.newest-after > size {
		return nil, false
	}
	out := make([]domain.Note, 0, r.newest-after)
	for s := after + 1; s <= r.newest; s++ {
		n := r.slots[s%size]
		if n.Seq != s {
			return nil, false
		}
		out = append(out, n)
	}
	return out, true
}

// tail returns every held note newer than the given sequence, in order,
// without any completeness claim. The subscribe handoff uses it: a gap
// here means the note never reached the hub, which only an explicit
// catch-up against the store can repair.
func (r *ring) tail(after int64) []domain.Note {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Note
	for _, n := range r.slots {
		if n.Seq > after {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

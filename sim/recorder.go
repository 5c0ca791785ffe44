package sim

import (
	"sync"

	"navsim-go/geom"
)

// Recorder receives every snapshot after the tick that produced it. An
// error stops the episode.
type Recorder interface {
	Record(s Snapshot) error
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(s Snapshot) error

func (f RecorderFunc) Record(s Snapshot) error { return f(s) }

// History keeps the most recent snapshots in a ring. It may be read from
// another goroutine while the episode records into it.
type History struct {
	mu    sync.Mutex
	buf   []Snapshot
	next  int
	full  bool
	total int
}

// NewHistory keeps at most capacity snapshots; capacity < 1 keeps one.
func NewHistory(capacity int) *History {
	return &History{buf: make([]Snapshot, max(capacity, 1))}
}

func (h *History) Record(s Snapshot) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = s
	h.next++
	h.total++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
	return nil
}

// Len is the number of snapshots currently held.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.full {
		return len(h.buf)
	}
	return h.next
}

// Total counts every snapshot ever recorded, evicted ones included.
func (h *History) Total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.total
}

// Snapshots returns the held snapshots, oldest first.
func (h *History) Snapshots() []Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.full {
		return append([]Snapshot(nil), h.buf[:h.next]...)
	}
	out := make([]Snapshot, 0, len(h.buf))
	out = append(out, h.buf[h.next:]...)
	return append(out, h.buf[:h.next]...)
}

// Paths splits the held snapshots into the true and estimated trajectories.
func (h *History) Paths() (truth, estimate []geom.Vec) {
	for _, s := range h.Snapshots() {
		truth = append(truth, s.Truth.Pos())
		estimate = append(estimate, s.Estimate.Mean.Pos())
	}
	return truth, estimate
}

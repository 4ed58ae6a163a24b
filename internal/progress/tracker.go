// Package progress aggregates per-item and run-wide download progress
// from concurrently executing transfer tasks.
package progress

import (
	"sync"
	"sync/atomic"

	"github.com/rekku-dl/rekku/internal/utils"
)

// Sink receives the aggregator's event stream. Implementations are
// purely presentational; the renderer in internal/output is one.
// Events for different items may arrive concurrently, events for the
// same item arrive in stream order.
type Sink interface {
	ItemStarted(id int, name string)
	ItemProgress(id int, delta int64, total int64)
	ItemFinished(id int, status utils.Status)
	AllFinished()
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) ItemStarted(int, string) {}
func (NopSink) ItemProgress(int, int64, int64) {}
func (NopSink) ItemFinished(int, utils.Status) {}
func (NopSink) AllFinished() {}

// ItemState is the mutable per-item record. Total is -1 until the server
// declares one.
type ItemState struct {
	Name   string
	Status utils.Status
	Bytes  int64
	Total  int64
}

// Tracker owns the per-item states and the aggregate byte counter for
// one run. Per-item updates take the mutex; the aggregate counter is
// atomic so cross-item sums never lose updates.
type Tracker struct {
	mu       sync.RWMutex
	items    []ItemState
	aggBytes atomic.Int64
	sink     Sink
}

func NewTracker(n int, sink Sink) *Tracker {
	if sink == nil {
		sink = NopSink{}
	}
	items := make([]ItemState, n)
	for i := range items {
		items[i].Total = -1
	}
	return &Tracker{items: items, sink: sink}
}

func (t *Tracker) ItemStarted(id int, name string) {
	t.mu.Lock()
	t.items[id].Name = name
	t.items[id].Status = utils.StatusProbing
	t.mu.Unlock()
	t.sink.ItemStarted(id, name)
}

// SetStatus records a non-terminal transition (probing, resuming,
// restarting, downloading).
func (t *Tracker) SetStatus(id int, status utils.Status) {
	t.mu.Lock()
	t.items[id].Status = status
	t.mu.Unlock()
}

// ItemProgress applies a byte delta for an item.
func (t *Tracker) ItemProgress(id int, delta int64, total int64) {
	t.mu.Lock()
	t.items[id].Bytes += delta
	t.items[id].Total = total
	t.mu.Unlock()
	t.aggBytes.Add(delta)
	t.sink.ItemProgress(id, delta, total)
}

// SyncBytes sets an item's byte count absolutely. Transfers call this
// when a stream (re)starts: a resumed item begins at its on-disk offset,
// a restarted one drops back to zero, and a retried attempt must not
// double-count bytes the previous attempt already reported.
func (t *Tracker) SyncBytes(id int, bytes int64, total int64) {
	t.mu.Lock()
	delta := bytes - t.items[id].Bytes
	t.items[id].Bytes = bytes
	t.items[id].Total = total
	t.mu.Unlock()
	t.aggBytes.Add(delta)
	t.sink.ItemProgress(id, delta, total)
}

func (t *Tracker) ItemFinished(id int, status utils.Status) {
	t.mu.Lock()
	t.items[id].Status = status
	t.mu.Unlock()
	t.sink.ItemFinished(id, status)
}

func (t *Tracker) AllFinished() {
	t.sink.AllFinished()
}

// Item returns a snapshot of one item's state.
func (t *Tracker) Item(id int) ItemState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.items[id]
}

// Aggregate returns the summed bytes across all items and, when every
// item's total is known, the summed total. Otherwise known is false and
// callers should report bytes only.
func (t *Tracker) Aggregate() (bytes, total int64, known bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	known = true
	for i := range t.items {
		if t.items[i].Total < 0 {
			known = false
			total = 0
			break
		}
		total += t.items[i].Total
	}
	return t.aggBytes.Load(), total, known
}

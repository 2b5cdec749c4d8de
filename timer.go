package evhub

import (
	"container/heap"
	"time"
)

// timerEntry is one scheduled deadline. Entries are ordered by
// deadline ascending, ties broken by insertion order so simultaneous
// deadlines fire FIFO.
type timerEntry struct {
	deadline time.Time
	seq      uint64
	pos      int
	ws       *waitSet
	index    int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int { return len(h) }

func (h timerHeap) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].pos = i
	h[j].pos = j
}

func (h *timerHeap) Push(x interface{}) {
	entry := x.(*timerEntry)
	entry.pos = len(*h)
	*h = append(*h, entry)
}

func (h *timerHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.pos = -1
	*h = old[:n-1]
	return entry
}

type timerQueue struct {
	entries timerHeap
	seq     uint64
}

func newTimerQueue() *timerQueue {
	return &timerQueue{}
}

func (q *timerQueue) schedule(deadline time.Time, ws *waitSet, index int) *timerEntry {
	q.seq++
	entry := &timerEntry{
		deadline: deadline,
		seq:      q.seq,
		ws:       ws,
		index:    index,
	}
	heap.Push(&q.entries, entry)
	return entry
}

func (q *timerQueue) cancel(entry *timerEntry) {
	if entry.pos < 0 {
		return // already popped
	}
	heap.Remove(&q.entries, entry.pos)
}

// popExpired removes and returns every entry due as of now, in firing
// order. A second call with the same now returns an empty batch.
func (q *timerQueue) popExpired(now time.Time) []*timerEntry {
	var expired []*timerEntry
	for len(q.entries) > 0 && !q.entries[0].deadline.After(now) {
		expired = append(expired, heap.Pop(&q.entries).(*timerEntry))
	}
	return expired
}

func (q *timerQueue) next() (time.Time, bool) {
	if len(q.entries) == 0 {
		return time.Time{}, false
	}
	return q.entries[0].deadline, true
}

func (q *timerQueue) empty() bool {
	return len(q.entries) == 0
}

package evhub

import (
	"testing"
	"time"
)

func TestTimerQueueOrdering(t *testing.T) {
	q := newTimerQueue()
	base := time.Now()
	late := q.schedule(base.Add(30*time.Millisecond), nil, 0)
	early := q.schedule(base.Add(10*time.Millisecond), nil, 1)
	mid := q.schedule(base.Add(20*time.Millisecond), nil, 2)

	deadline, ok := q.next()
	if !ok || !deadline.Equal(early.deadline) {
		t.Fatalf("next deadline: %v", deadline)
	}
	expired := q.popExpired(base.Add(25 * time.Millisecond))
	if len(expired) != 2 || expired[0] != early || expired[1] != mid {
		t.Fatalf("expired batch: %+v", expired)
	}
	expired = q.popExpired(base.Add(25 * time.Millisecond))
	if len(expired) != 0 {
		t.Fatalf("pop_expired not idempotent: %+v", expired)
	}
	expired = q.popExpired(base.Add(35 * time.Millisecond))
	if len(expired) != 1 || expired[0] != late {
		t.Fatalf("late batch: %+v", expired)
	}
}

func TestTimerQueueFIFOOnTies(t *testing.T) {
	q := newTimerQueue()
	deadline := time.Now().Add(5 * time.Millisecond)
	var entries []*timerEntry
	for i := 0; i < 16; i++ {
		entries = append(entries, q.schedule(deadline, nil, i))
	}
	expired := q.popExpired(deadline)
	if len(expired) != len(entries) {
		t.Fatalf("expired %d of %d", len(expired), len(entries))
	}
	for i, entry := range expired {
		if entry != entries[i] {
			t.Fatalf("tie order broken at %d", i)
		}
	}
}

func TestTimerQueueCancel(t *testing.T) {
	q := newTimerQueue()
	deadline := time.Now().Add(time.Millisecond)
	first := q.schedule(deadline, nil, 0)
	second := q.schedule(deadline, nil, 1)
	q.cancel(first)
	q.cancel(first) // double cancel is a no-op
	expired := q.popExpired(deadline.Add(time.Millisecond))
	if len(expired) != 1 || expired[0] != second {
		t.Fatalf("expired after cancel: %+v", expired)
	}
	q.cancel(second) // canceling a popped entry is a no-op
	if !q.empty() {
		t.Fatal("queue not empty")
	}
}

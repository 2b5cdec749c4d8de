package evhub

import (
	"time"

	"go.uber.org/atomic"
)

// Observer is the introspection hook invoked at scheduling
// transitions. It is read-only: nothing it does may influence
// scheduling decisions. At most one observer is attached per hub; the
// absence of one costs a single nil check.
type Observer interface {
	TaskCreated(id uint64)
	TaskSuspended(id uint64, conditions int)
	TaskResumed(id uint64, index int, waited time.Duration)
	TaskDestroyed(id uint64)
	// PollDone reports one backend poll call: the timeout handed to the
	// poller in milliseconds (negative means block) and the number of
	// ready events it returned.
	PollDone(timeoutMs int, ready int)
}

// StatsSink receives counter snapshots, at hub shutdown and whenever
// FlushStats is called. At most one sink per hub.
type StatsSink interface {
	Emit(snapshot StatsSnapshot)
}

type StatsSnapshot struct {
	Hub         string    `json:"hub"`
	Timestamp   int64     `json:"timestamp"`
	Spawned     uint64    `json:"spawned"`
	Destroyed   uint64    `json:"destroyed"`
	Suspended   uint64    `json:"suspended"`
	Resumed     uint64    `json:"resumed"`
	Polls       uint64    `json:"polls"`
	TimersFired uint64    `json:"timersFired"`
	Wakes       uint64    `json:"wakes"`
	At          time.Time `json:"-"`
}

type hubStats struct {
	spawned     *atomic.Uint64
	destroyed   *atomic.Uint64
	suspended   *atomic.Uint64
	resumed     *atomic.Uint64
	polls       *atomic.Uint64
	timersFired *atomic.Uint64
	wakes       *atomic.Uint64
}

func newHubStats() hubStats {
	return hubStats{
		spawned:     atomic.NewUint64(0),
		destroyed:   atomic.NewUint64(0),
		suspended:   atomic.NewUint64(0),
		resumed:     atomic.NewUint64(0),
		polls:       atomic.NewUint64(0),
		timersFired: atomic.NewUint64(0),
		wakes:       atomic.NewUint64(0),
	}
}

func (s *hubStats) snapshot(name string) StatsSnapshot {
	now := time.Now()
	return StatsSnapshot{
		Hub:         name,
		Timestamp:   now.UnixMilli(),
		Spawned:     s.spawned.Load(),
		Destroyed:   s.destroyed.Load(),
		Suspended:   s.suspended.Load(),
		Resumed:     s.resumed.Load(),
		Polls:       s.polls.Load(),
		TimersFired: s.timersFired.Load(),
		Wakes:       s.wakes.Load(),
		At:          now,
	}
}

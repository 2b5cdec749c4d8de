package evhub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

type recordingObserver struct {
	created   int
	suspended int
	resumed   int
	destroyed int
	polls     int
	lastConds int
	lastIndex int
	waited    time.Duration
}

func (o *recordingObserver) TaskCreated(uint64) { o.created++ }

func (o *recordingObserver) TaskSuspended(_ uint64, conditions int) {
	o.suspended++
	o.lastConds = conditions
}

func (o *recordingObserver) TaskResumed(_ uint64, index int, waited time.Duration) {
	o.resumed++
	o.lastIndex = index
	o.waited = waited
}

func (o *recordingObserver) TaskDestroyed(uint64) { o.destroyed++ }

func (o *recordingObserver) PollDone(int, int) { o.polls++ }

func TestObserverSeesSchedulingTransitions(t *testing.T) {
	hub := newTestHub(t)
	observer := &recordingObserver{}
	hub.RegisterObserver(observer)

	_, err := hub.Spawn(func(task *Task) {
		task.Suspend(AwaitTimeout(20*time.Millisecond), AwaitTimeout(time.Second))
	})
	require.NoError(t, err)
	require.NoError(t, hub.Run())

	require.Equal(t, 1, observer.created)
	require.Equal(t, 1, observer.suspended)
	require.Equal(t, 1, observer.resumed)
	require.Equal(t, 1, observer.destroyed)
	require.Equal(t, 2, observer.lastConds)
	require.Equal(t, 0, observer.lastIndex)
	require.GreaterOrEqual(t, observer.waited, 20*time.Millisecond)
	require.Greater(t, observer.polls, 0)
}

// Every task is in exactly one of ready-queue / waiting-with-wait-set /
// dead at any observation point.
func TestTaskStateInvariant(t *testing.T) {
	hub := newTestHub(t)
	server, client := testPair(t)

	var tasks []*Task
	checkInvariant := func() {
		for _, task := range tasks {
			inReady := 0
			for _, r := range hub.ready {
				if r == task {
					inReady++
				}
			}
			switch task.State() {
			case TaskWaiting:
				require.NotNil(t, task.ws)
				require.Zero(t, inReady)
			case TaskDead:
				require.Nil(t, task.ws)
			case TaskRunnable:
				require.Nil(t, task.ws)
				if hub.current != task {
					require.Equal(t, 1, inReady)
				}
			}
		}
	}

	waiter, err := hub.Spawn(func(task *Task) {
		out := task.Suspend(AwaitRead(server), AwaitTimeout(time.Second))
		require.NoError(t, out.Err)
		require.Equal(t, 0, out.Index)
	})
	require.NoError(t, err)
	tasks = append(tasks, waiter)

	prober, err := hub.Spawn(func(task *Task) {
		checkInvariant()
		task.Suspend(AwaitTimeout(10 * time.Millisecond))
		checkInvariant()
		_, writeErr := unix.Write(client, []byte("x"))
		require.NoError(t, writeErr)
		task.Suspend(AwaitTimeout(10 * time.Millisecond))
		checkInvariant()
	})
	require.NoError(t, err)
	tasks = append(tasks, prober)

	require.NoError(t, hub.Run())
	checkInvariant()
	for _, task := range tasks {
		require.Equal(t, TaskDead, task.State())
	}
}

func TestStatsSnapshotCounters(t *testing.T) {
	hub := newTestHub(t)
	var flushed []StatsSnapshot
	hub.RegisterStatsSink(statsSinkFunc(func(s StatsSnapshot) { flushed = append(flushed, s) }))

	_, err := hub.Spawn(func(task *Task) {
		task.Suspend(AwaitTimeout(time.Millisecond))
		task.Suspend(AwaitTimeout(time.Millisecond))
	})
	require.NoError(t, err)
	require.NoError(t, hub.Run())

	require.Len(t, flushed, 1, "sink flushed once at shutdown")
	snap := flushed[0]
	require.Equal(t, "test", snap.Hub)
	require.EqualValues(t, 1, snap.Spawned)
	require.EqualValues(t, 1, snap.Destroyed)
	require.EqualValues(t, 2, snap.Suspended)
	require.EqualValues(t, 2, snap.Resumed)
	require.EqualValues(t, 2, snap.TimersFired)
}

type statsSinkFunc func(StatsSnapshot)

func (f statsSinkFunc) Emit(s StatsSnapshot) { f(s) }

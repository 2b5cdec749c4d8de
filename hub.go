package evhub

import (
	"fmt"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"go.uber.org/atomic"
	"golang.org/x/sys/unix"
)

const defWakeQueueSize = 1024

type fdWaiter struct {
	ws       *waitSet
	index    int
	interest Interest
}

// fdWatch aggregates every waiter of one descriptor. The poller holds
// a single registration per descriptor with the union of all waiter
// interests; the mask is reconciled whenever the waiter set changes.
type fdWatch struct {
	mask    Interest
	waiters []fdWaiter
}

type sigWaiter struct {
	ws    *waitSet
	index int
}

// Hub is the per-thread cooperative scheduler: it owns one backend
// poller, one timer queue and a FIFO ready queue, and runs the
// dispatch loop tying them together. Every task is pinned to the hub
// that spawned it.
//
// All methods except Stop, NewSignal and SignalToken.Notify must be
// called on the hub's own thread (from a task continuation, or before
// Run). Cross-thread interaction goes exclusively through the inbound
// wake queue.
type Hub struct {
	name         string
	lockOsThread bool
	poller       Poller
	timers       *timerQueue
	tasks        map[uint64]*Task
	ready        []*Task
	watchers     map[int]*fdWatch
	sigWaits     map[uint64]sigWaiter
	fired        map[uint64]error
	inbound      *wakeQueue
	wakeR        int
	wakeW        int
	yield        chan struct{}
	current      *Task
	running      *atomic.Bool
	stopping     *atomic.Bool
	observer     Observer
	sink         StatsSink
	stats        hubStats
	taskSeq      uint64
	signalSeq    *atomic.Uint64
	failure      error
}

func NewHub(config HubConfig) (*Hub, error) {
	if log.Debug().Enabled() {
		log.Debug().Msgf("init hub: %+v", config)
	} else {
		log.Info().Msgf("init hub: %s", config.Name)
	}
	poller, err := openBackend(config)
	if err != nil {
		log.Error().Msgf("can't open poller: %+v", err)
		return nil, err
	}
	name := config.Name
	if name == "" {
		name = "hub"
	}
	h := &Hub{
		name:         name,
		lockOsThread: config.LockOsThread,
		poller:       poller,
		timers:       newTimerQueue(),
		tasks:        make(map[uint64]*Task),
		watchers:     make(map[int]*fdWatch),
		sigWaits:     make(map[uint64]sigWaiter),
		fired:        make(map[uint64]error),
		inbound:      newWakeQueue(config.WakeQueueSize),
		yield:        make(chan struct{}),
		running:      atomic.NewBool(false),
		stopping:     atomic.NewBool(false),
		stats:        newHubStats(),
		signalSeq:    atomic.NewUint64(0),
	}
	if err := h.openWakePair(); err != nil {
		_ = poller.Close()
		return nil, err
	}
	return h, nil
}

// openWakePair sets up the cross-thread wake channel: a nonblocking
// socket pair whose read end is permanently registered with the
// poller, so a Notify from another thread interrupts a blocked wait.
func (h *Hub) openWakePair() error {
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return fmt.Errorf("wake socketpair: %w", err)
	}
	for _, fd := range fds {
		if err := unix.SetNonblock(fd, true); err != nil {
			unix.Close(fds[0])
			unix.Close(fds[1])
			return fmt.Errorf("wake socketpair: %w", err)
		}
		unix.CloseOnExec(fd)
	}
	h.wakeR, h.wakeW = fds[0], fds[1]
	if err := h.poller.Add(h.wakeR, Readable); err != nil {
		unix.Close(fds[0])
		unix.Close(fds[1])
		return err
	}
	return nil
}

func (h *Hub) Name() string {
	return h.name
}

// Running reports whether the dispatch loop is active. Safe from any
// thread.
func (h *Hub) Running() bool {
	return h.running.Load()
}

// RegisterObserver attaches the introspection hook. Zero or one per
// hub; attach before Run.
func (h *Hub) RegisterObserver(o Observer) {
	h.observer = o
}

// RegisterStatsSink attaches the statistics sink. Zero or one per hub;
// attach before Run.
func (h *Hub) RegisterStatsSink(s StatsSink) {
	h.sink = s
}

func (h *Hub) Stats() StatsSnapshot {
	return h.stats.snapshot(h.name)
}

func (h *Hub) FlushStats() {
	if h.sink != nil {
		h.sink.Emit(h.stats.snapshot(h.name))
	}
}

// Spawn schedules fn as a new cooperative task on this hub. Must be
// called on the hub's thread or before Run.
func (h *Hub) Spawn(fn func(*Task)) (*Task, error) {
	if h.stopping.Load() {
		return nil, ErrHubStopped
	}
	h.taskSeq++
	t := &Task{
		id:     h.taskSeq,
		hub:    h,
		state:  atomic.NewInt32(int32(TaskRunnable)),
		resume: make(chan Outcome),
	}
	h.tasks[t.id] = t
	h.ready = append(h.ready, t)
	go t.trampoline(fn)
	h.stats.spawned.Inc()
	if h.observer != nil {
		h.observer.TaskCreated(t.id)
	}
	return t, nil
}

// Cancel retracts a waiting task's registrations and marks it dead
// without resuming its continuation; the goroutine unwinds, running
// deferred cleanup only. Cancelling the currently running task takes
// effect at its next suspension.
func (h *Hub) Cancel(t *Task) error {
	if t == nil || t.hub != h {
		return ErrTaskDead
	}
	switch t.State() {
	case TaskDead:
		return ErrTaskDead
	case TaskWaiting:
		if t.ws != nil {
			t.ws.resolved = true
			h.retractAll(t.ws)
			t.ws = nil
		}
		h.markDead(t)
		t.pending = Outcome{Index: -1, unwind: true}
		h.ready = append(h.ready, t)
	case TaskRunnable:
		if h.current == t {
			t.canceled = true
			return nil
		}
		h.markDead(t)
		t.pending = Outcome{Index: -1, unwind: true}
	}
	return nil
}

// Stop requests a cooperative shutdown: every live task is cancelled
// and the loop exits once they have unwound. Safe from any thread.
func (h *Hub) Stop() {
	h.stopping.Store(true)
	h.wakeup()
}

// Run executes the dispatch loop until no live task remains. It
// returns the poll failure that brought the hub down, or nil on a
// clean drain. One hub, one Run, on one thread.
func (h *Hub) Run() error {
	if h.lockOsThread {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
	}
	h.running.Store(true)
	defer h.running.Store(false)
	defer h.close()
	for {
		h.drainInbound()

		// Snapshot drain: tasks readied while the batch runs wait for
		// the next iteration, so one hot task chain can't monopolize
		// the loop.
		batch := h.ready
		h.ready = nil
		for _, t := range batch {
			h.runTask(t)
		}

		if h.stopping.Load() && len(h.tasks) > 0 {
			h.cancelAll()
		}
		if len(h.tasks) == 0 && len(h.ready) == 0 {
			break
		}
		if h.failure != nil {
			h.failAllWaiting(h.failure)
			continue
		}

		msec := h.nextTimeoutMs()
		evCount, err := h.poller.WaitForEvents(msec, h.onReady)
		h.stats.polls.Inc()
		if h.observer != nil {
			h.observer.PollDone(msec, evCount)
		}
		if err != nil {
			log.Error().Msgf("poller wait failed, shutting hub down: %+v", err)
			h.failure = fmt.Errorf("%w: %v", ErrPollFailure, err)
			h.failAllWaiting(h.failure)
			continue
		}
		h.fireTimers(time.Now())
	}
	return h.failure
}

func (h *Hub) runTask(t *Task) {
	out := t.pending
	t.pending = Outcome{}
	if !out.unwind {
		t.state.Store(int32(TaskRunnable))
	}
	h.current = t
	t.resume <- out
	<-h.yield
	h.current = nil
}

func (h *Hub) cancelAll() {
	ids := make([]uint64, 0, len(h.tasks))
	for id := range h.tasks {
		ids = append(ids, id)
	}
	for _, id := range ids {
		if t, ok := h.tasks[id]; ok {
			_ = h.Cancel(t)
		}
	}
}

func (h *Hub) markDead(t *Task) {
	t.state.Store(int32(TaskDead))
	if _, ok := h.tasks[t.id]; ok {
		delete(h.tasks, t.id)
		h.stats.destroyed.Inc()
		if h.observer != nil {
			h.observer.TaskDestroyed(t.id)
		}
	}
}

func (h *Hub) finishTask(t *Task) {
	h.markDead(t)
}

// nextTimeoutMs computes the wake deadline for the next poll: zero if
// runnable work is already queued, the earliest timer otherwise, or
// block indefinitely when no timer is pending.
func (h *Hub) nextTimeoutMs() int {
	if len(h.ready) > 0 {
		return nonblock
	}
	if deadline, ok := h.timers.next(); ok {
		d := time.Until(deadline)
		if d <= 0 {
			return nonblock
		}
		return int((d + time.Millisecond - 1) / time.Millisecond)
	}
	return blocked
}

// arm registers every condition of ws with its target facility. On a
// registration failure the already-armed prefix is retracted and the
// failing index returned. A condition that is immediately satisfiable
// (pre-fired signal) resolves the set on the spot.
func (h *Hub) arm(ws *waitSet) (int, error) {
	for i, c := range ws.conds {
		var err error
		switch c.kind {
		case condReadiness:
			err = h.armFd(ws, i, c.fd, c.interest)
		case condTimer:
			ws.timers[i] = h.timers.schedule(c.deadline, ws, i)
		case condSignal:
			err = h.armSignal(ws, i, c.signal)
		}
		if err != nil {
			for j := 0; j < i; j++ {
				h.retractCond(ws, j)
			}
			return i, err
		}
		if ws.resolved {
			break
		}
	}
	return -1, nil
}

func (h *Hub) armFd(ws *waitSet, index, fd int, interest Interest) error {
	w := h.watchers[fd]
	if w == nil {
		w = &fdWatch{}
		h.watchers[fd] = w
	}
	newMask := w.mask | interest | Errored
	if len(w.waiters) == 0 {
		if err := h.poller.Add(fd, newMask); err != nil {
			delete(h.watchers, fd)
			return err
		}
	} else if newMask != w.mask {
		if err := h.poller.Mod(fd, newMask); err != nil {
			return err
		}
	}
	w.mask = newMask
	w.waiters = append(w.waiters, fdWaiter{ws: ws, index: index, interest: interest})
	return nil
}

func (h *Hub) disarmFd(ws *waitSet, index, fd int) {
	w := h.watchers[fd]
	if w == nil {
		return
	}
	var mask Interest
	waiters := w.waiters[:0]
	for _, waiter := range w.waiters {
		if waiter.ws == ws && waiter.index == index {
			continue
		}
		waiters = append(waiters, waiter)
		mask |= waiter.interest | Errored
	}
	w.waiters = waiters
	if len(w.waiters) == 0 {
		delete(h.watchers, fd)
		if err := h.poller.Delete(fd); err != nil {
			log.Debug().Msgf("[%d] can't detach fd from netpoll: %+v", fd, err)
		}
		return
	}
	if mask != w.mask {
		w.mask = mask
		if err := h.poller.Mod(fd, mask); err != nil {
			log.Debug().Msgf("[%d] can't narrow netpoll mask: %+v", fd, err)
		}
	}
}

func (h *Hub) armSignal(ws *waitSet, index int, token *SignalToken) error {
	if token == nil || token.hub != h {
		return ErrForeignSignal
	}
	if err, ok := h.fired[token.id]; ok {
		delete(h.fired, token.id)
		h.resolve(ws, index, 0, err)
		return nil
	}
	h.sigWaits[token.id] = sigWaiter{ws: ws, index: index}
	return nil
}

func (h *Hub) retractCond(ws *waitSet, i int) {
	c := ws.conds[i]
	switch c.kind {
	case condReadiness:
		h.disarmFd(ws, i, c.fd)
	case condTimer:
		if ws.timers[i] != nil {
			h.timers.cancel(ws.timers[i])
			ws.timers[i] = nil
		}
	case condSignal:
		if sw, ok := h.sigWaits[c.signal.id]; ok && sw.ws == ws {
			delete(h.sigWaits, c.signal.id)
		}
	}
}

func (h *Hub) retractAll(ws *waitSet) {
	for i := range ws.conds {
		h.retractCond(ws, i)
	}
}

// resolve settles ws on condition index: the losers are retracted
// best-effort (an already-fired backend event for one of them is
// simply dropped by the resolved check) and the task joins the ready
// queue carrying the outcome.
func (h *Hub) resolve(ws *waitSet, index int, interest Interest, err error) {
	if ws.resolved {
		return
	}
	ws.resolved = true
	// The winner's own registration is retracted too: a popped timer
	// entry and a consumed signal wait are no-ops, a ready descriptor
	// must leave the poller or a level-triggered backend reports it
	// forever.
	for i := range ws.conds {
		h.retractCond(ws, i)
	}
	t := ws.task
	t.ws = nil
	t.pending = Outcome{Index: index, Interest: interest, Err: err}
	t.state.Store(int32(TaskRunnable))
	h.ready = append(h.ready, t)
}

func (h *Hub) onReady(fd int, interest Interest) {
	if fd == h.wakeR {
		h.drainWakeFd()
		return
	}
	w := h.watchers[fd]
	if w == nil {
		// Nobody waits on this descriptor (a quiet queue endpoint, or a
		// retraction raced with the event): disarm so a level-triggered
		// backend doesn't report it forever.
		if err := h.poller.Delete(fd); err != nil {
			log.Debug().Msgf("[%d] can't detach unwatched fd: %+v", fd, err)
		}
		return
	}
	waiters := append([]fdWaiter(nil), w.waiters...)
	for _, waiter := range waiters {
		if waiter.interest&interest != 0 {
			h.resolve(waiter.ws, waiter.index, interest&waiter.interest, nil)
		} else if interest&Errored != 0 {
			h.resolve(waiter.ws, waiter.index, Errored,
				&DescriptorError{Fd: fd, Op: "poll", Err: errDescriptorHangup})
		}
	}
}

func (h *Hub) fireTimers(now time.Time) {
	for _, entry := range h.timers.popExpired(now) {
		if entry.ws.resolved {
			continue
		}
		h.stats.timersFired.Inc()
		h.resolve(entry.ws, entry.index, 0, nil)
	}
}

func (h *Hub) drainInbound() {
	for _, wk := range h.inbound.drain() {
		h.stats.wakes.Inc()
		if sw, ok := h.sigWaits[wk.token]; ok {
			delete(h.sigWaits, wk.token)
			h.resolve(sw.ws, sw.index, 0, wk.err)
		} else {
			h.fired[wk.token] = wk.err
		}
	}
}

func (h *Hub) drainWakeFd() {
	var buf [64]byte
	for {
		n, err := unix.Read(h.wakeR, buf[:])
		if err != nil || n < len(buf) {
			return
		}
	}
}

func (h *Hub) wakeup() {
	_, err := unix.Write(h.wakeW, []byte{0})
	if err != nil && err != unix.EAGAIN {
		log.Debug().Msgf("hub wakeup write failed: %+v", err)
	}
}

// failAllWaiting delivers a hub-fatal error outcome to every waiting
// task so none of them leaks when the poller can no longer be trusted.
func (h *Hub) failAllWaiting(err error) {
	for _, t := range h.tasks {
		if t.State() == TaskWaiting && t.ws != nil {
			h.resolve(t.ws, -1, 0, err)
		}
	}
}

func (h *Hub) close() {
	h.FlushStats()
	if err := h.poller.Close(); err != nil {
		log.Error().Msgf("got error while closing poller: %+v", err)
	}
	unix.Close(h.wakeR)
	unix.Close(h.wakeW)
	log.Info().Msgf("hub %s stopped", h.name)
}

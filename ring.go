package evhub

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

const magicNumber = uint64(2862933555777941757)

// JumpHash maps key onto one of numBuckets buckets with Lamping and
// Veach's jump consistent hash. The ring uses it to pin keyed work to
// a worker hub.
func JumpHash(key uint64, numBuckets int) int {
	var bucket int64 = -1 // bucket number before the previous jump
	var jump int64 = 0    // bucket number before the current jump
	for jump < int64(numBuckets) {
		bucket = jump
		key = key*magicNumber + 1
		jump = int64(float64(bucket+1) * (float64(int64(1)<<31) / float64((key>>33)+1)))
	}
	return int(bucket)
}

// Ring is the multithreaded operating mode: one hub per worker OS
// thread. Tasks stay pinned to the hub that spawned them; the only
// cross-hub interaction is a signal token notified from another
// worker, which lands in the target hub's inbound wake queue.
type Ring struct {
	hubs []*Hub
}

func NewRing(config RingConfig) (*Ring, error) {
	workers := config.Workers
	if workers <= 0 {
		workers = 1
	}
	if config.RaiseFdLimit {
		RaiseFdLimit()
	}
	ring := &Ring{hubs: make([]*Hub, 0, workers)}
	for i := 0; i < workers; i++ {
		hubConfig := config.Hub
		if hubConfig.Name == "" {
			hubConfig.Name = "hub"
		}
		hubConfig.Name = fmt.Sprintf("%s-%d", hubConfig.Name, i)
		hubConfig.LockOsThread = true
		hub, err := NewHub(hubConfig)
		if err != nil {
			ring.closeIdle()
			return nil, err
		}
		ring.hubs = append(ring.hubs, hub)
	}
	return ring, nil
}

func (r *Ring) Size() int {
	return len(r.hubs)
}

func (r *Ring) Hub(i int) *Hub {
	return r.hubs[i]
}

// Pick selects the worker hub for a key.
func (r *Ring) Pick(key uint64) *Hub {
	return r.hubs[JumpHash(key, len(r.hubs))]
}

// Run starts every worker hub on its own goroutine (each locks its OS
// thread) and blocks until all dispatch loops have drained. The first
// hub failure is returned.
func (r *Ring) Run() error {
	var group errgroup.Group
	for _, hub := range r.hubs {
		hub := hub
		group.Go(hub.Run)
	}
	return group.Wait()
}

// Stop requests shutdown of every worker. Safe from any thread.
func (r *Ring) Stop() {
	for _, hub := range r.hubs {
		hub.Stop()
	}
}

func (r *Ring) closeIdle() {
	for _, hub := range r.hubs {
		hub.close()
	}
}

// RaiseFdLimit bumps RLIMIT_NOFILE towards its hard limit; a hub per
// worker plus a descriptor per waiter adds up quickly.
func RaiseFdLimit() {
	limit := &unix.Rlimit{}
	err := unix.Getrlimit(unix.RLIMIT_NOFILE, limit)
	if err != nil {
		log.Error().Msgf("error occur while getting OS limit of open files: %+v", err)
		return
	}
	if limit.Cur >= limit.Max {
		return
	}
	err = unix.Setrlimit(unix.RLIMIT_NOFILE, &unix.Rlimit{
		Cur: limit.Max,
		Max: limit.Max,
	})
	if err != nil {
		log.Error().Msgf("error occur while raising OS limit of open files: %+v", err)
	}
}

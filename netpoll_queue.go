package evhub

import "github.com/rs/zerolog/log"

// queuePoller is the queue-socket backend: the native poller plus a
// set of pre-opened message-queue endpoint descriptors armed for read
// from the start, polled alongside regular descriptors. The endpoints
// stay owned by the caller; Close leaves them open.
type queuePoller struct {
	Poller
	endpoints []int
}

func openQueuePoller(eventsBufferSize int, endpoints []int) (Poller, error) {
	base, err := openPoller(eventsBufferSize)
	if err != nil {
		return nil, err
	}
	qp := &queuePoller{
		Poller:    base,
		endpoints: append([]int(nil), endpoints...),
	}
	for _, fd := range qp.endpoints {
		if err := base.Add(fd, Readable|Errored); err != nil {
			log.Error().Msgf("[%d] can't arm queue endpoint: %+v", fd, err)
			_ = base.Close()
			return nil, err
		}
	}
	return qp, nil
}

// Add re-arms a paused endpoint with Mod semantics so a hub watcher
// can attach to an endpoint the hub previously disarmed.
func (p *queuePoller) Add(fd int, interest Interest) error {
	for _, endpoint := range p.endpoints {
		if endpoint == fd {
			if err := p.Poller.Add(fd, interest); err != nil {
				return p.Poller.Mod(fd, interest)
			}
			return nil
		}
	}
	return p.Poller.Add(fd, interest)
}

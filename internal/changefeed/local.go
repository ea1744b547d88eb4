package changefeed

import (
	"context"
	"sync"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/internal/eventbus"
	"github.com/kazz187/worktrack/internal/realtime"
)

// LocalFeed subscribes directly to the in-process bus.
type LocalFeed struct {
	bus     *eventbus.Bus
	bufSize int
}

var _ realtime.Feed = (*LocalFeed)(nil)

func NewLocalFeed(bus *eventbus.Bus, bufSize int) *LocalFeed {
	return &LocalFeed{bus: bus, bufSize: bufSize}
}

func (f *LocalFeed) Subscribe(_ context.Context, table string, filter realtime.Filter) (realtime.Subscription, error) {
	id, in := f.bus.Subscribe(table, f.bufSize)
	s := &localSubscription{
		bus:  f.bus,
		id:   id,
		out:  make(chan change.Event, f.bufSize),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.forward(in, filter)
	return s, nil
}

type localSubscription struct {
	bus       *eventbus.Bus
	id        string
	out       chan change.Event
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

func (s *localSubscription) forward(in <-chan change.Event, filter realtime.Filter) {
	defer close(s.done)
	defer close(s.out)
	for {
		select {
		case <-s.stop:
			return
		case ev, ok := <-in:
			if !ok {
				return
			}
			if !filter.MatchEvent(ev) {
				continue
			}
			select {
			case s.out <- ev:
			case <-s.stop:
				return
			}
		}
	}
}

func (s *localSubscription) Events() <-chan change.Event {
	return s.out
}

func (s *localSubscription) Close() error {
	s.closeOnce.Do(func() {
		close(s.stop)
		s.bus.Unsubscribe(s.id)
	})
	<-s.done
	return nil
}

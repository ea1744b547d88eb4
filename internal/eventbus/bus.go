package eventbus

import (
	"log/slog"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/worktrack/internal/change"
)

type subscriber struct {
	table string
	ch    chan change.Event
}

// Bus fans committed change events out to subscribers. A subscriber that
// falls a full buffer behind is disconnected: its channel is closed so the
// consumer can tell that it missed events.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string]*subscriber
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]*subscriber),
	}
}

// Subscribe registers a subscriber for table. An empty table receives every
// event.
func (b *Bus) Subscribe(table string, bufSize int) (string, <-chan change.Event) {
	id := ulid.Make().String()
	ch := make(chan change.Event, bufSize)
	b.mu.Lock()
	b.subscribers[id] = &subscriber{table: table, ch: ch}
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe stops delivery to id. No event is sent after it returns.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if s, ok := b.subscribers[id]; ok {
		close(s.ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(ev change.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, s := range b.subscribers {
		if s.table != "" && s.table != ev.Table {
			continue
		}
		select {
		case s.ch <- ev:
		default:
			slog.Warn("event subscriber overflowed, disconnecting", "subscriber_id", id, "table", s.table)
			close(s.ch)
			delete(b.subscribers, id)
		}
	}
}

// Len returns the number of live subscribers.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// IDs returns the ids of the live subscribers.
func (b *Bus) IDs() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	return ids
}

// Package change defines the row-level change events shared by the stores,
// the event bus, the websocket feed and the realtime views.
package change

import (
	"encoding/json"
	"fmt"
	"time"
)

type Kind string

const (
	Insert Kind = "insert"
	Update Kind = "update"
	Delete Kind = "delete"
)

func (k Kind) Valid() bool {
	switch k {
	case Insert, Update, Delete:
		return true
	}
	return false
}

// Table names used on the feed.
const (
	TableTasks       = "tasks"
	TableProjects    = "projects"
	TableComments    = "comments"
	TableAttachments = "attachments"
	TableProgress    = "task_progress"
)

// Event is one committed row change. New is nil for deletes and Old is nil
// for inserts.
type Event struct {
	Table       string    `json:"table"`
	EntityID    string    `json:"id"`
	Kind        Kind      `json:"event_type"`
	New         Fields    `json:"new,omitempty"`
	Old         Fields    `json:"old,omitempty"`
	CommittedAt time.Time `json:"committed_at"`
}

// Fields is a (possibly partial) row keyed by column name. Values have the
// shapes produced by encoding/json: string, float64, bool, nil, []any and
// map[string]any.
type Fields map[string]any

// FieldsOf converts a row struct into Fields using its json tags.
func FieldsOf(v any) (Fields, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal row: %w", err)
	}
	var f Fields
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal row: %w", err)
	}
	return f, nil
}

// Decode fills dst from f using the same json tags.
func (f Fields) Decode(dst any) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("failed to marshal fields: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("failed to decode fields: %w", err)
	}
	return nil
}

// Merge returns a copy of f overwritten field by field with other.
func (f Fields) Merge(other Fields) Fields {
	out := make(Fields, len(f)+len(other))
	for k, v := range f {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	return f.Merge(nil)
}

// String returns the field as a string, or "" when absent or not a string.
func (f Fields) String(key string) string {
	s, _ := f[key].(string)
	return s
}

// Strings returns a string list field. Non-string elements are skipped.
func (f Fields) Strings(key string) []string {
	switch v := f[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// NewEvent builds an event from typed old/new rows. Pass nil for the side that
// does not exist.
func NewEvent(table, id string, kind Kind, newRow, oldRow any, at time.Time) (Event, error) {
	ev := Event{Table: table, EntityID: id, Kind: kind, CommittedAt: at}
	var err error
	if kind != Delete {
		if ev.New, err = FieldsOf(newRow); err != nil {
			return Event{}, err
		}
	}
	if kind != Insert {
		if ev.Old, err = FieldsOf(oldRow); err != nil {
			return Event{}, err
		}
	}
	return ev, nil
}

// Publisher receives committed change events.
type Publisher interface {
	Publish(ev Event)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(Event)

func (f PublisherFunc) Publish(ev Event) { f(ev) }

// Discard drops every event.
var Discard Publisher = PublisherFunc(func(Event) {})

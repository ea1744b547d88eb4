package realtime

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/worktrack/internal/change"
)

var assigneeRelation = Relation{Name: "assignees", ForeignKey: "assignee_ids", Many: true}
var projectRelation = Relation{Name: "project", ForeignKey: "project_id"}

func row(id, status string, extra ...any) change.Fields {
	f := change.Fields{"id": id, "status": status}
	for i := 0; i+1 < len(extra); i += 2 {
		f[extra[i].(string)] = extra[i+1]
	}
	return f
}

func TestCollection_Plan(t *testing.T) {
	newColl := func() *Collection {
		c := NewCollection(Filter{Eq("status", "Done")}, []Relation{assigneeRelation, projectRelation})
		c.Load([]Item{{ID: "t1", Fields: row("t1", "Done", "project_id", "p1", "assignee_ids", []any{"u1"})}})
		return c
	}
	tests := []struct {
		name    string
		ev      change.Event
		action  Action
		hydrate []string
	}{
		{
			name:    "insert matching",
			ev:      change.Event{Kind: change.Insert, EntityID: "t2", New: row("t2", "Done")},
			action:  ActionInsert,
			hydrate: []string{"assignees", "project"},
		},
		{
			name:   "insert not matching",
			ev:     change.Event{Kind: change.Insert, EntityID: "t2", New: row("t2", "ToDo")},
			action: ActionSkip,
		},
		{
			name:   "update leaves filter",
			ev:     change.Event{Kind: change.Update, EntityID: "t1", New: row("t1", "ToDo")},
			action: ActionRemove,
		},
		{
			name:   "update in place keeps relations",
			ev:     change.Event{Kind: change.Update, EntityID: "t1", New: change.Fields{"title": "renamed"}},
			action: ActionMerge,
		},
		{
			name:    "update changes one foreign key",
			ev:      change.Event{Kind: change.Update, EntityID: "t1", New: change.Fields{"project_id": "p2"}},
			action:  ActionMerge,
			hydrate: []string{"project"},
		},
		{
			name:    "update enters filter",
			ev:      change.Event{Kind: change.Update, EntityID: "t9", Old: row("t9", "ToDo"), New: row("t9", "Done")},
			action:  ActionInsert,
			hydrate: []string{"assignees", "project"},
		},
		{
			name:   "delete of absent row",
			ev:     change.Event{Kind: change.Delete, EntityID: "t9"},
			action: ActionRemove,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newColl().Plan(tt.ev)
			assert.Equal(t, tt.action, p.Action, p.Action.String())
			assert.Equal(t, tt.hydrate, p.Hydrate)
		})
	}
}

func TestCollection_ApplyIsIdempotent(t *testing.T) {
	c := NewCollection(Filter{Eq("status", "Done")}, []Relation{assigneeRelation})
	events := []change.Event{
		{Kind: change.Insert, EntityID: "t1", New: row("t1", "Done")},
		{Kind: change.Insert, EntityID: "t2", New: row("t2", "Done")},
		{Kind: change.Update, EntityID: "t1", New: row("t1", "Done", "title", "x")},
		{Kind: change.Delete, EntityID: "t2"},
	}
	for _, ev := range events {
		for range 2 {
			c.Apply(c.Plan(ev), nil)
		}
	}
	items := c.Items()
	require.Len(t, items, 1)
	assert.Equal(t, "x", items[0].Fields.String("title"))

	// a late duplicate insert must not resurrect a deleted row
	c.Apply(c.Plan(events[1]), nil)
	assert.False(t, c.Has("t2"))
}

func TestCollection_TombstonesAreBounded(t *testing.T) {
	c := NewCollection(nil, nil)
	c.tombstoneCap = 2
	for _, id := range []string{"a", "b", "c", "c"} {
		c.Apply(c.Plan(change.Event{Kind: change.Delete, EntityID: id}), nil)
	}
	assert.Len(t, c.deleted, 2)
	assert.Equal(t, []string{"b", "c"}, c.deletedOrder)

	late := func(id string) change.Event {
		return change.Event{Kind: change.Update, EntityID: id, New: row(id, "ToDo")}
	}
	assert.Equal(t, ActionSkip, c.Plan(late("c")).Action)
	assert.Equal(t, ActionInsert, c.Plan(late("a")).Action, "the oldest tombstone is forgotten")
}

func TestCollection_KeepsRelationsUnlessForeignKeyChanges(t *testing.T) {
	c := NewCollection(nil, []Relation{assigneeRelation, projectRelation})
	ins := change.Event{Kind: change.Insert, EntityID: "t1", New: row("t1", "ToDo", "project_id", "p1", "assignee_ids", []any{"u1"})}
	p := c.Plan(ins)
	c.Apply(p, map[string]any{"assignees": []any{"U1"}, "project": "P1"})

	c.Apply(c.Plan(change.Event{Kind: change.Update, EntityID: "t1", New: change.Fields{"status": "Done"}}), nil)
	it := c.Items()[0]
	assert.Equal(t, "P1", it.Relations["project"])
	assert.Equal(t, []any{"U1"}, it.Relations["assignees"])

	p = c.Plan(change.Event{Kind: change.Update, EntityID: "t1", New: change.Fields{"assignee_ids": []any{"u2"}}})
	require.Equal(t, []string{"assignees"}, p.Hydrate)
	c.Apply(p, map[string]any{"assignees": []any{"U2"}})
	it = c.Items()[0]
	assert.Equal(t, "P1", it.Relations["project"])
	assert.Equal(t, []any{"U2"}, it.Relations["assignees"])
}

func TestCollection_InsertsAtHead(t *testing.T) {
	c := NewCollection(nil, nil)
	for _, id := range []string{"a", "b", "c"} {
		c.Apply(c.Plan(change.Event{Kind: change.Insert, EntityID: id, New: row(id, "ToDo")}), nil)
	}
	var ids []string
	for _, it := range c.Items() {
		ids = append(ids, it.ID)
	}
	assert.Equal(t, []string{"c", "b", "a"}, ids)
}

// TestCollection_Converges folds random event histories and compares the
// result with a direct filtered read of the final rows.
func TestCollection_Converges(t *testing.T) {
	statuses := []string{"ToDo", "InProgress", "Blocked", "Done"}
	filter := Filter{In("status", "InProgress", "Done"), IsNull("closed_at")}

	for seed := range uint64(50) {
		t.Run(fmt.Sprintf("seed_%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewPCG(seed, 7))
			remote := map[string]change.Fields{}
			deleted := map[string]bool{}
			c := NewCollection(filter, []Relation{assigneeRelation})

			for step := range 200 {
				id := fmt.Sprintf("t%d", rng.IntN(12))
				if deleted[id] {
					continue
				}
				var ev change.Event
				cur, exists := remote[id]
				switch {
				case !exists:
					next := row(id, statuses[rng.IntN(len(statuses))], "closed_at", nil)
					remote[id] = next
					ev = change.Event{Kind: change.Insert, EntityID: id, New: next.Clone()}
				case rng.IntN(10) == 0:
					delete(remote, id)
					deleted[id] = true
					ev = change.Event{Kind: change.Delete, EntityID: id, Old: cur.Clone()}
				default:
					next := cur.Clone()
					next["status"] = statuses[rng.IntN(len(statuses))]
					if rng.IntN(5) == 0 {
						next["closed_at"] = fmt.Sprintf("2026-01-01T00:00:%02dZ", step%60)
					}
					remote[id] = next
					ev = change.Event{Kind: change.Update, EntityID: id, New: next.Clone(), Old: cur.Clone()}
				}
				plan := c.Plan(ev)
				c.Apply(plan, nil)
				if rng.IntN(4) == 0 {
					c.Apply(plan, nil)
				}
			}

			var want []string
			for id, f := range remote {
				if filter.Match(f) {
					want = append(want, id)
				}
			}
			var got []string
			for _, it := range c.Items() {
				got = append(got, it.ID)
				assert.Equal(t, remote[it.ID], it.Fields)
			}
			sort.Strings(want)
			sort.Strings(got)
			assert.Equal(t, want, got)
		})
	}
}

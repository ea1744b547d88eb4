package realtime

import (
	"maps"
	"slices"

	"github.com/kazz187/worktrack/internal/change"
)

// Item is one row of a view with its hydrated relations.
type Item struct {
	ID        string         `json:"id"`
	Fields    change.Fields  `json:"fields"`
	Relations map[string]any `json:"relations,omitempty"`
}

func (it Item) clone() Item {
	return Item{ID: it.ID, Fields: it.Fields.Clone(), Relations: maps.Clone(it.Relations)}
}

type Action int

const (
	ActionSkip Action = iota
	ActionInsert
	ActionRemove
	ActionMerge
)

func (a Action) String() string {
	switch a {
	case ActionInsert:
		return "insert"
	case ActionRemove:
		return "remove"
	case ActionMerge:
		return "merge"
	}
	return "skip"
}

// Plan is the decision for one event. Hydrate names the relations that must
// be fetched before Apply.
type Plan struct {
	Action    Action
	ID        string
	Fields    change.Fields
	Hydrate   []string
	Tombstone bool
}

// maxTombstones bounds the remembered deletes. Row ids are ULIDs and never
// reused, so a tombstone only has to outlive events for the row that were
// already in flight when it was deleted.
const maxTombstones = 4096

// Collection is the ordered, filtered mirror of a table. It is not safe for
// concurrent use; View serializes access.
type Collection struct {
	filter       Filter
	relations    []Relation
	order        []string
	items        map[string]*Item
	deleted      map[string]struct{}
	deletedOrder []string
	tombstoneCap int
}

func NewCollection(filter Filter, relations []Relation) *Collection {
	return &Collection{
		filter:       filter,
		relations:    relations,
		items:        map[string]*Item{},
		deleted:      map[string]struct{}{},
		tombstoneCap: maxTombstones,
	}
}

// Load replaces the contents with items, kept in the given order. Rows that
// do not match the filter are dropped.
func (c *Collection) Load(items []Item) {
	c.order = c.order[:0]
	c.items = make(map[string]*Item, len(items))
	for _, it := range items {
		if _, dup := c.items[it.ID]; dup || !c.filter.Match(it.Fields) {
			continue
		}
		it := it.clone()
		if it.Relations == nil {
			it.Relations = map[string]any{}
		}
		c.items[it.ID] = &it
		c.order = append(c.order, it.ID)
	}
}

// Plan decides what ev does to the collection without changing it.
func (c *Collection) Plan(ev change.Event) Plan {
	id := ev.EntityID
	if ev.Kind == change.Delete {
		return Plan{Action: ActionRemove, ID: id, Tombstone: true}
	}
	if _, gone := c.deleted[id]; gone {
		return Plan{Action: ActionSkip, ID: id}
	}

	cur, present := c.items[id]
	var merged change.Fields
	if present {
		merged = cur.Fields.Merge(ev.New)
	} else {
		merged = ev.Old.Merge(ev.New)
	}
	matches := c.filter.Match(merged)

	switch {
	case present && !matches:
		return Plan{Action: ActionRemove, ID: id}
	case !present && matches:
		return Plan{Action: ActionInsert, ID: id, Fields: merged, Hydrate: c.relationNames()}
	case present && matches:
		var stale []string
		for _, r := range c.relations {
			if r.changed(cur.Fields, merged) {
				stale = append(stale, r.Name)
			}
		}
		return Plan{Action: ActionMerge, ID: id, Fields: merged, Hydrate: stale}
	}
	return Plan{Action: ActionSkip, ID: id}
}

// Apply commits p with the hydrated relation values in rels. Applying the
// same plan twice leaves the same state as applying it once.
func (c *Collection) Apply(p Plan, rels map[string]any) {
	switch p.Action {
	case ActionRemove:
		c.remove(p.ID)
		if p.Tombstone {
			c.tombstone(p.ID)
		}
	case ActionInsert:
		if cur, ok := c.items[p.ID]; ok {
			c.merge(cur, p.Fields, rels)
			return
		}
		it := &Item{ID: p.ID, Fields: p.Fields.Clone(), Relations: map[string]any{}}
		maps.Copy(it.Relations, rels)
		c.items[p.ID] = it
		c.order = slices.Insert(c.order, 0, p.ID)
	case ActionMerge:
		if cur, ok := c.items[p.ID]; ok {
			c.merge(cur, p.Fields, rels)
		}
	}
}

func (c *Collection) merge(it *Item, fields change.Fields, rels map[string]any) {
	it.Fields = fields.Clone()
	maps.Copy(it.Relations, rels)
}

// tombstone remembers id as deleted, forgetting the oldest tombstone once
// the cap is reached.
func (c *Collection) tombstone(id string) {
	if _, ok := c.deleted[id]; ok {
		return
	}
	c.deleted[id] = struct{}{}
	c.deletedOrder = append(c.deletedOrder, id)
	if len(c.deletedOrder) > c.tombstoneCap {
		delete(c.deleted, c.deletedOrder[0])
		c.deletedOrder = slices.Delete(c.deletedOrder, 0, 1)
	}
}

func (c *Collection) remove(id string) {
	if _, ok := c.items[id]; !ok {
		return
	}
	delete(c.items, id)
	c.order = slices.DeleteFunc(c.order, func(v string) bool { return v == id })
}

func (c *Collection) relationNames() []string {
	names := make([]string, 0, len(c.relations))
	for _, r := range c.relations {
		names = append(names, r.Name)
	}
	return names
}

func (c *Collection) relation(name string) (Relation, bool) {
	for _, r := range c.relations {
		if r.Name == name {
			return r, true
		}
	}
	return Relation{}, false
}

func (c *Collection) Has(id string) bool {
	_, ok := c.items[id]
	return ok
}

func (c *Collection) Len() int {
	return len(c.order)
}

// Items returns a copy of the contents, head first.
func (c *Collection) Items() []Item {
	out := make([]Item, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id].clone())
	}
	return out
}

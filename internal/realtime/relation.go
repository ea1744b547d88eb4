package realtime

import (
	"context"
	"slices"

	"github.com/kazz187/worktrack/internal/change"
)

// FetchFunc loads related entities by id. Ids it cannot find are simply
// absent from the result.
type FetchFunc func(ctx context.Context, ids []string) (map[string]any, error)

// Relation hydrates one related entity (or list of entities when Many is
// set) from the foreign key field of a row.
type Relation struct {
	Name       string
	ForeignKey string
	Many       bool
	Fetch      FetchFunc
}

// keys returns the foreign key values of row in field order.
func (r Relation) keys(row change.Fields) []string {
	if r.Many {
		return row.Strings(r.ForeignKey)
	}
	if id := row.String(r.ForeignKey); id != "" {
		return []string{id}
	}
	return nil
}

// changed reports whether the foreign key differs between two rows.
func (r Relation) changed(prev, next change.Fields) bool {
	return !slices.Equal(r.keys(prev), r.keys(next))
}

// value builds the relation value of row from fetched entities: a single
// entity or nil, or a list of the entities found.
func (r Relation) value(row change.Fields, fetched map[string]any) any {
	keys := r.keys(row)
	if !r.Many {
		if len(keys) == 0 {
			return nil
		}
		return fetched[keys[0]]
	}
	out := make([]any, 0, len(keys))
	for _, k := range keys {
		if v, ok := fetched[k]; ok && v != nil {
			out = append(out, v)
		}
	}
	return out
}

// hydrate loads the relation of a single row. A row without a foreign key
// needs no fetch.
func (r Relation) hydrate(ctx context.Context, row change.Fields) (any, error) {
	keys := r.keys(row)
	if len(keys) == 0 {
		return r.value(row, nil), nil
	}
	fetched, err := r.Fetch(ctx, keys)
	if err != nil {
		return nil, err
	}
	return r.value(row, fetched), nil
}

// Package realtime keeps a live, filtered mirror of a table by folding its
// change events into a Collection.
package realtime

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/pool"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/pkg/panicerr"
)

// IDField is the column holding the row id.
const IDField = "id"

// ErrFeedClosed is reported by View.Err when the feed ended without Close.
// The collection is then stale.
var ErrFeedClosed = errors.New("change feed closed")

// Source performs the initial filtered fetch, newest first.
type Source interface {
	List(ctx context.Context, table string, f Filter) ([]change.Fields, error)
}

type Feed interface {
	Subscribe(ctx context.Context, table string, f Filter) (Subscription, error)
}

// Subscription is a live event stream. Close is synchronous: once it
// returns no further event is delivered.
type Subscription interface {
	Events() <-chan change.Event
	Close() error
}

// Scoped is implemented by subscriptions whose server narrows the requested
// filter. The view adopts that filter for its fetch and its collection so
// that a row leaving the narrowed scope is removed.
type Scoped interface {
	Filter() Filter
}

type Config struct {
	Table     string
	Filter    Filter
	Source    Source
	Feed      Feed
	Relations []Relation
	// OnChange is called with the new contents after every change. It runs
	// while the view is locked and must not call back into the view.
	OnChange func(items []Item)
}

type View struct {
	cfg    Config
	ctx    context.Context
	cancel context.CancelFunc
	sub    Subscription
	done   chan struct{}

	mu     sync.Mutex
	coll   *Collection
	closed bool
	err    error

	qmu     sync.Mutex
	queues  map[string][]change.Event
	workers conc.WaitGroup
}

// Open subscribes to the feed, loads the filtered rows with their relations
// and starts applying events. The subscription is made before the fetch so
// no change committed in between is lost.
func Open(ctx context.Context, cfg Config) (*View, error) {
	vctx, cancel := context.WithCancel(ctx)
	sub, err := cfg.Feed.Subscribe(vctx, cfg.Table, cfg.Filter)
	if err != nil {
		cancel()
		return nil, err
	}
	if scoped, ok := sub.(Scoped); ok {
		cfg.Filter = scoped.Filter()
	}
	rows, err := cfg.Source.List(vctx, cfg.Table, cfg.Filter)
	if err != nil {
		cancel()
		if cerr := sub.Close(); cerr != nil {
			slog.WarnContext(ctx, "failed to close subscription", "table", cfg.Table, "error", cerr)
		}
		return nil, err
	}

	v := &View{
		cfg:    cfg,
		ctx:    vctx,
		cancel: cancel,
		sub:    sub,
		done:   make(chan struct{}),
		coll:   NewCollection(cfg.Filter, cfg.Relations),
		queues: map[string][]change.Event{},
	}
	items := v.hydrateRows(vctx, rows)

	v.mu.Lock()
	v.coll.Load(items)
	v.notifyLocked()
	v.mu.Unlock()

	go v.run()
	return v, nil
}

func (v *View) run() {
	defer close(v.done)
	events := v.sub.Events()
	for {
		select {
		case <-v.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				v.mu.Lock()
				if !v.closed {
					v.err = ErrFeedClosed
					slog.WarnContext(v.ctx, "change feed closed, view is stale", "table", v.cfg.Table)
				}
				v.mu.Unlock()
				return
			}
			if ev.Table != "" && ev.Table != v.cfg.Table {
				continue
			}
			v.enqueue(ev)
		}
	}
}

// enqueue hands ev to the worker of its id, starting one if needed. Events of
// one id are applied in arrival order; different ids proceed concurrently.
func (v *View) enqueue(ev change.Event) {
	id := ev.EntityID
	v.qmu.Lock()
	q, busy := v.queues[id]
	v.queues[id] = append(q, ev)
	v.qmu.Unlock()
	if busy {
		return
	}
	v.workers.Go(func() {
		for {
			v.qmu.Lock()
			q := v.queues[id]
			if len(q) == 0 {
				delete(v.queues, id)
				v.qmu.Unlock()
				return
			}
			next := q[0]
			v.queues[id] = q[1:]
			v.qmu.Unlock()

			if err := panicerr.Safe(func() error { v.process(next); return nil })(); err != nil {
				slog.ErrorContext(v.ctx, "failed to apply change event", "table", v.cfg.Table, "id", id, "error", err)
			}
		}
	})
}

func (v *View) process(ev change.Event) {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	plan := v.coll.Plan(ev)
	v.mu.Unlock()

	if plan.Action == ActionSkip {
		return
	}
	rels, err := v.hydrate(v.ctx, plan)
	if err != nil && plan.Action == ActionInsert {
		slog.WarnContext(v.ctx, "skipping insert, relation hydration failed", "table", v.cfg.Table, "id", plan.ID, "error", err)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.coll.Apply(plan, rels)
	v.notifyLocked()
}

// hydrate fetches the relations named by plan in parallel. A failed relation
// is set to nil and its error is returned alongside the other values.
func (v *View) hydrate(ctx context.Context, plan Plan) (map[string]any, error) {
	if len(plan.Hydrate) == 0 {
		return nil, nil
	}
	type result struct {
		value any
		err   error
	}
	results := make([]result, len(plan.Hydrate))
	p := pool.New()
	for i, name := range plan.Hydrate {
		rel, ok := v.coll.relation(name)
		if !ok {
			continue
		}
		p.Go(func() {
			results[i].value, results[i].err = panicerr.Value(func() (any, error) {
				return rel.hydrate(ctx, plan.Fields)
			})
		})
	}
	p.Wait()

	rels := make(map[string]any, len(plan.Hydrate))
	var errs []error
	for i, name := range plan.Hydrate {
		if results[i].err != nil {
			errs = append(errs, results[i].err)
			rels[name] = nil
			continue
		}
		rels[name] = results[i].value
	}
	if len(errs) > 0 {
		slog.WarnContext(ctx, "relation hydration failed", "table", v.cfg.Table, "id", plan.ID, "error", errors.Join(errs...))
	}
	return rels, errors.Join(errs...)
}

// hydrateRows loads every relation of the initial rows with one fetch per
// relation over the distinct foreign keys. Failures leave nil relations.
func (v *View) hydrateRows(ctx context.Context, rows []change.Fields) []Item {
	fetched := make([]map[string]any, len(v.cfg.Relations))
	p := pool.New()
	for i, rel := range v.cfg.Relations {
		var keys []string
		seen := map[string]bool{}
		for _, row := range rows {
			for _, k := range rel.keys(row) {
				if !seen[k] {
					seen[k] = true
					keys = append(keys, k)
				}
			}
		}
		if len(keys) == 0 {
			continue
		}
		p.Go(func() {
			m, err := panicerr.Value(func() (map[string]any, error) { return rel.Fetch(ctx, keys) })
			if err != nil {
				slog.WarnContext(ctx, "relation hydration failed", "table", v.cfg.Table, "relation", rel.Name, "error", err)
				return
			}
			fetched[i] = m
		})
	}
	p.Wait()

	items := make([]Item, 0, len(rows))
	for _, row := range rows {
		it := Item{ID: row.String(IDField), Fields: row, Relations: make(map[string]any, len(v.cfg.Relations))}
		for i, rel := range v.cfg.Relations {
			it.Relations[rel.Name] = rel.value(row, fetched[i])
		}
		items = append(items, it)
	}
	return items
}

func (v *View) notifyLocked() {
	if v.cfg.OnChange != nil {
		v.cfg.OnChange(v.coll.Items())
	}
}

// Snapshot returns the current contents, head first.
func (v *View) Snapshot() []Item {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.coll.Items()
}

// Err returns ErrFeedClosed once the feed has ended without Close.
func (v *View) Err() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.err
}

// Close unsubscribes and waits for in-flight work. Hydrations that finish
// after Close are discarded.
func (v *View) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	v.mu.Unlock()

	v.cancel()
	err := v.sub.Close()
	<-v.done
	v.workers.Wait()
	return err
}

// Package changewatch turns edits made to the local YAML store by other
// processes into change events, so the feed stays correct when files are
// changed by hand or by a second server sharing the directory.
package changewatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/kazz187/worktrack/internal/change"
	"github.com/kazz187/worktrack/pkg/panicerr"
	"github.com/kazz187/worktrack/pkg/storage"
)

// DebounceInterval lets the rename of an atomic write settle before the
// file is read back.
const DebounceInterval = 100 * time.Millisecond

// Source maps one storage directory onto a feed table.
type Source struct {
	Table string
	Dir   string
	// Decode parses a stored file and returns its id and row.
	Decode func(data []byte) (id string, row any, err error)
}

type key struct {
	table string
	id    string
}

// Watcher is a change.Publisher placed between the repositories and the
// bus. It remembers the last image it forwarded for every row, so a file
// event that only reflects one of our own writes is dropped.
type Watcher struct {
	storage  *storage.LocalStorage
	next     change.Publisher
	sources  map[string]Source
	debounce time.Duration
	now      func() time.Time

	mu     sync.Mutex
	seen   map[key]change.Fields
	timers map[string]*time.Timer
	closed bool
}

func New(s *storage.LocalStorage, next change.Publisher, sources ...Source) *Watcher {
	w := &Watcher{
		storage:  s,
		next:     next,
		sources:  make(map[string]Source, len(sources)),
		debounce: DebounceInterval,
		now:      time.Now,
		seen:     map[key]change.Fields{},
		timers:   map[string]*time.Timer{},
	}
	for _, src := range sources {
		w.sources[src.Dir] = src
	}
	return w
}

// SetDebounce overrides DebounceInterval. Call before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.debounce = d
}

// Publish records ev as the current image of its row and forwards it.
func (w *Watcher) Publish(ev change.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.record(ev)
	w.next.Publish(ev)
}

func (w *Watcher) record(ev change.Event) {
	k := key{table: ev.Table, id: ev.EntityID}
	if ev.Kind == change.Delete {
		delete(w.seen, k)
		return
	}
	w.seen[k] = ev.New.Clone()
}

// Prime records the rows already on disk without emitting anything.
func (w *Watcher) Prime(ctx context.Context) error {
	for dir, src := range w.sources {
		paths, err := w.storage.List(ctx, dir)
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", dir, err)
		}
		for _, p := range paths {
			if !strings.HasSuffix(p, ".yaml") {
				continue
			}
			id, fields, err := w.load(ctx, src, p)
			if err != nil {
				slog.Warn("skipping unreadable file", "path", p, "error", err)
				continue
			}
			w.mu.Lock()
			w.seen[key{table: src.Table, id: id}] = fields
			w.mu.Unlock()
		}
	}
	return nil
}

// Run watches the source directories until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	defer fw.Close()

	for dir := range w.sources {
		full := filepath.Join(w.storage.Root(), dir)
		if err := os.MkdirAll(full, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", full, err)
		}
		if err := fw.Add(full); err != nil {
			return fmt.Errorf("failed to watch %s: %w", full, err)
		}
		slog.Info("watching for external changes", "dir", full)
	}

	defer w.stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			slog.Error("fsnotify error", "error", err)
		}
	}
}

func (w *Watcher) handle(ctx context.Context, ev fsnotify.Event) {
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".yaml") {
		return
	}
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	rel, ok := w.storage.Rel(ev.Name)
	if !ok {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if t, ok := w.timers[rel]; ok {
		t.Stop()
	}
	w.timers[rel] = time.AfterFunc(w.debounce, func() {
		err := panicerr.SafeContext(func(ctx context.Context) error {
			w.sync(ctx, rel)
			return nil
		})(ctx)
		if err != nil {
			slog.ErrorContext(ctx, "failed to sync external change", "path", rel, "error", err)
		}
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for p, t := range w.timers {
		t.Stop()
		delete(w.timers, p)
	}
}

// sync compares the file at rel with the last forwarded image and emits
// the difference.
func (w *Watcher) sync(ctx context.Context, rel string) {
	src, ok := w.sources[pathDir(rel)]
	if !ok {
		return
	}
	id, fields, err := w.load(ctx, src, rel)
	gone := errors.Is(err, storage.ErrNotFound)
	if err != nil && !gone {
		slog.Warn("ignoring unreadable file", "path", rel, "error", err)
		return
	}
	if gone {
		id = strings.TrimSuffix(filepath.Base(rel), ".yaml")
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.timers, rel)
	if w.closed {
		return
	}

	k := key{table: src.Table, id: id}
	old, known := w.seen[k]
	ev := change.Event{Table: src.Table, EntityID: id, CommittedAt: w.now()}
	switch {
	case gone && !known:
		return
	case gone:
		ev.Kind = change.Delete
		ev.Old = old
	case !known:
		ev.Kind = change.Insert
		ev.New = fields
	case sameFields(old, fields):
		return
	default:
		ev.Kind = change.Update
		ev.New = fields
		ev.Old = old
	}
	slog.Debug("external change", "table", ev.Table, "id", ev.EntityID, "kind", ev.Kind)
	w.record(ev)
	w.next.Publish(ev)
}

func (w *Watcher) load(ctx context.Context, src Source, rel string) (string, change.Fields, error) {
	data, err := w.storage.Read(ctx, rel)
	if err != nil {
		return "", nil, err
	}
	id, row, err := src.Decode(data)
	if err != nil {
		return "", nil, err
	}
	fields, err := change.FieldsOf(row)
	if err != nil {
		return "", nil, err
	}
	return id, fields, nil
}

func pathDir(rel string) string {
	dir, _, ok := strings.Cut(rel, "/")
	if !ok {
		return ""
	}
	return dir
}

// sameFields compares two images treating a missing key, null and an empty
// list alike, since the YAML round trip does not preserve the difference.
func sameFields(a, b change.Fields) bool {
	for k, v := range a {
		if !reflect.DeepEqual(normalize(v), normalize(b[k])) {
			return false
		}
	}
	for k, v := range b {
		if _, ok := a[k]; !ok && normalize(v) != nil {
			return false
		}
	}
	return true
}

func normalize(v any) any {
	if l, ok := v.([]any); ok && len(l) == 0 {
		return nil
	}
	return v
}

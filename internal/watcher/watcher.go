// Package watcher implements component C9: a debounced filesystem
// watcher over the root directories it is given, coalescing bursts of
// events into a bounded channel of upserts and removals (spec §4.8). The
// Store passes each collection's root directory; views/ is not watched.
package watcher

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	grounddb "github.com/JustMaier/groundDb"
	"github.com/JustMaier/groundDb/logging"
)

// Kind distinguishes a file that now needs to be (re)read from one that
// was removed.
type Kind int

const (
	Upserted Kind = iota
	Removed
)

// Event is one settled, debounced filesystem change.
type Event struct {
	Path string
	Kind Kind
}

// DefaultDebounce is the sliding-window width spec §4.8 names: the last
// event on a path within the window wins.
const DefaultDebounce = 100 * time.Millisecond

const defaultChannelCapacity = 1024

// Watcher wraps one fsnotify.Watcher over a set of root directories and
// emits debounced Events on a bounded channel.
type Watcher struct {
	fsw      *fsnotify.Watcher
	log      logging.Logger
	debounce time.Duration
	out      chan Event

	mu      sync.Mutex
	pending map[string]*pendingEvent
	closed  bool
}

type pendingEvent struct {
	kind  Kind
	timer *time.Timer
}

// New creates a watcher over roots. Each root is added on its own and
// non-recursively; subdirectories of a root are not watched.
func New(roots []string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, grounddb.Wrap(grounddb.IoErr, err, "create filesystem watcher")
	}
	for _, root := range roots {
		if err := fsw.Add(root); err != nil {
			fsw.Close()
			return nil, grounddb.Wrap(grounddb.IoErr, err, "watch %s", root)
		}
	}
	return &Watcher{
		fsw:      fsw,
		log:      logging.Global(),
		debounce: DefaultDebounce,
		out:      make(chan Event, defaultChannelCapacity),
		pending:  map[string]*pendingEvent{},
	}, nil
}

// Events returns the channel debounced events are delivered on.
func (w *Watcher) Events() <-chan Event { return w.out }

// Start launches the single event-reading goroutine, in the teacher's
// filewatcher style: one goroutine drains fsnotify.Events for the
// lifetime of the watcher.
func (w *Watcher) Start(ctx context.Context) {
	go w.readLoop(ctx)
}

func (w *Watcher) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(evt)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.log.Errorf("watcher: %v", err)
		}
	}
}

// handle classifies a raw fsnotify event and (re)arms the path's
// debounce timer. Create and Write both settle as Upserted; Remove and
// Rename (the old name firing on a move-away) settle as Removed. A
// create-then-rename sequence — our own atomic writer's temp-then-
// rename-over-target pattern — naturally collapses to a single
// Upserted at the final path: fsnotify reports the temp name's
// create/rename as events on a path nothing ever looks up again, and
// the final Create at the target path re-arms that path's own timer,
// so only the last settled kind at the *target* path is ever emitted.
func (w *Watcher) handle(evt fsnotify.Event) {
	var kind Kind
	switch {
	case evt.Op&(fsnotify.Create|fsnotify.Write) != 0:
		kind = Upserted
	case evt.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		kind = Removed
	default:
		return
	}
	w.arm(evt.Name, kind)
}

func (w *Watcher) arm(path string, kind Kind) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	if p, ok := w.pending[path]; ok {
		p.kind = kind
		p.timer.Reset(w.debounce)
		return
	}
	p := &pendingEvent{kind: kind}
	p.timer = time.AfterFunc(w.debounce, func() { w.settle(path) })
	w.pending[path] = p
}

func (w *Watcher) settle(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	closed := w.closed
	kind := p.kind
	w.mu.Unlock()
	if closed {
		return
	}
	select {
	case w.out <- Event{Path: filepath.Clean(path), Kind: kind}:
	default:
		w.log.Warnf("watcher: event channel full, dropping event for %s", path)
	}
}

// Close stops the watcher and releases the underlying fsnotify handle.
// Pending debounce timers are stopped without firing.
func (w *Watcher) Close() error {
	w.mu.Lock()
	w.closed = true
	for _, p := range w.pending {
		p.timer.Stop()
	}
	w.pending = map[string]*pendingEvent{}
	w.mu.Unlock()
	close(w.out)
	return w.fsw.Close()
}

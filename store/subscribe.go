package store

import (
	"sync"
	"sync/atomic"

	grounddb "github.com/JustMaier/groundDb"
)

// CollectionCallback receives a CollectionChange. It must not call back
// into the Store (spec §4.7: reentrancy returns Busy) and must not
// retain Store-owned data beyond the call.
type CollectionCallback func(CollectionChange)

// ViewCallback receives a view's freshly rebuilt rows.
type ViewCallback func(ViewChange)

// subscriptions is the thread-safe map from subscription id to callback,
// grouped by target, described in spec §4.7. Dispatch runs on a
// dedicated goroutine reading a bounded channel so callback latency does
// not block the writer lane, except when that channel is full (see
// enqueue).
type subscriptions struct {
	mu          sync.RWMutex
	nextID      uint64
	collections map[string]map[uint64]CollectionCallback
	views       map[string]map[uint64]ViewCallback

	dispatch  chan func()
	closeOnce sync.Once
	done      chan struct{}

	// inDispatch is set while the dispatcher goroutine is executing a
	// callback, so a reentrant call back into the Store from within a
	// callback is detected and rejected with Busy.
	inDispatch int32
}

const dispatchChannelCapacity = 256

func newSubscriptions() *subscriptions {
	s := &subscriptions{
		collections: map[string]map[uint64]CollectionCallback{},
		views:       map[string]map[uint64]ViewCallback{},
		dispatch:    make(chan func(), dispatchChannelCapacity),
		done:        make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *subscriptions) run() {
	for fn := range s.dispatch {
		atomic.StoreInt32(&s.inDispatch, 1)
		fn()
		atomic.StoreInt32(&s.inDispatch, 0)
	}
	close(s.done)
}

// checkReentrant returns Busy if called from within a dispatched
// callback on the dispatcher goroutine.
func (s *subscriptions) checkReentrant() error {
	if atomic.LoadInt32(&s.inDispatch) == 1 {
		return grounddb.Errorf(grounddb.BusyErr, "reentrant call from a subscription callback")
	}
	return nil
}

// OnCollectionChange registers cb for every Insert/Update/Delete on
// collection, returning a subscription id for Unsubscribe.
func (s *Store) OnCollectionChange(collection string, cb CollectionCallback) uint64 {
	return s.subs.addCollection(collection, cb)
}

// OnViewChange registers cb for every successful rebuild of view.
func (s *Store) OnViewChange(view string, cb ViewCallback) uint64 {
	return s.subs.addView(view, cb)
}

// Unsubscribe removes a subscription registered by either On* method.
func (s *Store) Unsubscribe(id uint64) {
	s.subs.remove(id)
}

func (s *subscriptions) addCollection(collection string, cb CollectionCallback) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.allocID()
	if s.collections[collection] == nil {
		s.collections[collection] = map[uint64]CollectionCallback{}
	}
	s.collections[collection][id] = cb
	return id
}

func (s *subscriptions) addView(view string, cb ViewCallback) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.allocID()
	if s.views[view] == nil {
		s.views[view] = map[uint64]ViewCallback{}
	}
	s.views[view][id] = cb
	return id
}

func (s *subscriptions) allocID() uint64 {
	s.nextID++
	return s.nextID
}

func (s *subscriptions) remove(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.collections {
		delete(m, id)
	}
	for _, m := range s.views {
		delete(m, id)
	}
}

// notifyCollection dispatches change to every subscriber of its
// collection on the dispatcher goroutine. The order among subscribers is
// not defined.
func (s *subscriptions) notifyCollection(collection string, change CollectionChange) {
	s.mu.RLock()
	subs := s.collections[collection]
	cbs := make([]CollectionCallback, 0, len(subs))
	for _, cb := range subs {
		cbs = append(cbs, cb)
	}
	s.mu.RUnlock()
	if len(cbs) == 0 {
		return
	}
	s.enqueue(func() {
		for _, cb := range cbs {
			cb(change)
		}
	})
}

// notifyView dispatches a rebuilt view's rows to every subscriber.
func (s *subscriptions) notifyView(view string, rows []map[string]interface{}) {
	s.mu.RLock()
	subs := s.views[view]
	cbs := make([]ViewCallback, 0, len(subs))
	for _, cb := range subs {
		cbs = append(cbs, cb)
	}
	s.mu.RUnlock()
	if len(cbs) == 0 {
		return
	}
	change := ViewChange{View: view, Rows: cloneRows(rows)}
	s.enqueue(func() {
		for _, cb := range cbs {
			cb(change)
		}
	})
}

func (s *subscriptions) enqueue(fn func()) {
	select {
	case s.dispatch <- fn:
	default:
		// Bounded channel is full; run inline rather than drop the
		// notification, trading a brief writer-lane stall for
		// delivery-order correctness.
		fn()
	}
}

func (s *subscriptions) close() {
	s.closeOnce.Do(func() {
		close(s.dispatch)
	})
	<-s.done
}

func cloneRows(rows []map[string]interface{}) []map[string]interface{} {
	out := make([]map[string]interface{}, len(rows))
	for i, r := range rows {
		cp := make(map[string]interface{}, len(r))
		for k, v := range r {
			cp[k] = v
		}
		out[i] = cp
	}
	return out
}

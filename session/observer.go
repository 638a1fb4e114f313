package session

import (
	"sort"
	"sync"

	shopagent "github.com/goliatone/go-shopagent"
)

type observer struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]Listener
	logger    shopagent.Logger
}

func newObserver(logger shopagent.Logger) *observer {
	return &observer{
		listeners: make(map[uint64]Listener),
		logger:    logger,
	}
}

func (o *observer) subscribe(listener Listener) func() {
	if listener == nil {
		return func() {}
	}

	o.mu.Lock()
	id := o.next
	o.next++
	o.listeners[id] = listener
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.listeners, id)
			o.mu.Unlock()
		})
	}
}

func (o *observer) len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.listeners)
}

// publish calls listeners in subscription order. Each listener gets its own
// copy of the change.
func (o *observer) publish(change Change) {
	o.mu.RLock()
	ids := make([]uint64, 0, len(o.listeners))
	for id := range o.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, o.listeners[id])
	}
	o.mu.RUnlock()

	for _, listener := range listeners {
		o.deliver(listener, Change{
			Previous: change.Previous.Clone(),
			Current:  change.Current.Clone(),
			Fields:   append([]string(nil), change.Fields...),
		})
	}
}

func (o *observer) deliver(listener Listener, change Change) {
	defer func() {
		if r := recover(); r != nil && o.logger != nil {
			o.logger.Error("session listener panicked", "panic", r, "version", change.Current.Version)
		}
	}()
	listener(change)
}

package transport

import (
	"encoding/json"
	"sync"
)

// dispatcher fans incoming events out to registered handlers. Handlers are
// invoked synchronously in registration order so state stores observe events
// in arrival order.
type dispatcher struct {
	mu       sync.RWMutex
	next     int
	handlers map[EventType]map[int]Handler
	order    map[EventType][]int
}

func newDispatcher() *dispatcher {
	return &dispatcher{
		handlers: make(map[EventType]map[int]Handler),
		order:    make(map[EventType][]int),
	}
}

func (d *dispatcher) subscribe(ev EventType, h Handler) func() {
	d.mu.Lock()
	id := d.next
	d.next++
	if d.handlers[ev] == nil {
		d.handlers[ev] = make(map[int]Handler)
	}
	d.handlers[ev][id] = h
	d.order[ev] = append(d.order[ev], id)
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.handlers[ev], id)
			ids := d.order[ev]
			for i, v := range ids {
				if v == id {
					d.order[ev] = append(ids[:i], ids[i+1:]...)
					break
				}
			}
			d.mu.Unlock()
		})
	}
}

func (d *dispatcher) dispatch(ev EventType, payload json.RawMessage) {
	d.mu.RLock()
	ids := make([]int, len(d.order[ev]))
	copy(ids, d.order[ev])
	reg := d.handlers[ev]
	hs := make([]Handler, 0, len(ids))
	for _, id := range ids {
		if h, ok := reg[id]; ok {
			hs = append(hs, h)
		}
	}
	d.mu.RUnlock()

	for _, h := range hs {
		h(payload)
	}
}

package runtime

import (
	"clinic-chat/domain"
	"sync"
)

type messageObserver struct {
	id      int
	handler func(domain.Message)
}

type stateObserver struct {
	id      int
	handler func(domain.ConnectionState)
}

// Observers broadcasts hub events to in-process subscribers.
//
// Every subscriber sees every message: routing to the right surface is the
// subscriber's job. Delivery order follows subscription order. Callers
// serialize Broadcast calls; registration may happen from any goroutine.
type Observers struct {
	mu       sync.Mutex
	nextID   int
	messages []messageObserver
	states   []stateObserver
}

func NewObservers() *Observers {
	return &Observers{}
}

func (o *Observers) OnMessage(handler func(domain.Message)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.messages = append(o.messages, messageObserver{id: id, handler: handler})
	return func() { o.remove(id) }
}

func (o *Observers) OnStateChange(handler func(domain.ConnectionState)) func() {
	o.mu.Lock()
	defer o.mu.Unlock()
	id := o.nextID
	o.nextID++
	o.states = append(o.states, stateObserver{id: id, handler: handler})
	return func() { o.remove(id) }
}

func (o *Observers) remove(id int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	for i, obs := range o.messages {
		if obs.id == id {
			o.messages = append(o.messages[:i:i], o.messages[i+1:]...)
			return
		}
	}
	for i, obs := range o.states {
		if obs.id == id {
			o.states = append(o.states[:i:i], o.states[i+1:]...)
			return
		}
	}
}

// Clear drops every subscriber.
func (o *Observers) Clear() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = nil
	o.states = nil
}

func (o *Observers) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.messages) + len(o.states)
}

// BroadcastMessage calls every message subscriber, one after the other.
func (o *Observers) BroadcastMessage(message domain.Message) {
	o.mu.Lock()
	subscribers := make([]messageObserver, len(o.messages))
	copy(subscribers, o.messages)
	o.mu.Unlock()

	for _, obs := range subscribers {
		obs.handler(message)
	}
}

func (o *Observers) BroadcastState(state domain.ConnectionState) {
	o.mu.Lock()
	subscribers := make([]stateObserver, len(o.states))
	copy(subscribers, o.states)
	o.mu.Unlock()

	for _, obs := range subscribers {
		obs.handler(state)
	}
}

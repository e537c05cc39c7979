// Package projection builds the local views of a chat session from what the
// hub and the backend report: the conversation directory, the timeline of the
// selected conversation and the presence status.
// It performs no rendering and owns no transport.
package projection

import "sync"

// listeners is a registry of update handlers with unsubscribe support.
type listeners[T any] struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]func(T)
	order    []int
}

func (l *listeners[T]) add(handler func(T)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.handlers == nil {
		l.handlers = make(map[int]func(T))
	}
	id := l.nextID
	l.nextID++
	l.handlers[id] = handler
	l.order = append(l.order, id)

	var once sync.Once
	return func() {
		once.Do(func() { l.remove(id) })
	}
}

func (l *listeners[T]) remove(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.handlers, id)
	for i, v := range l.order {
		if v == id {
			l.order = append(l.order[:i:i], l.order[i+1:]...)
			return
		}
	}
}

func (l *listeners[T]) emit(value T) {
	l.mu.Lock()
	snapshot := make([]func(T), 0, len(l.order))
	for _, id := range l.order {
		snapshot = append(snapshot, l.handlers[id])
	}
	l.mu.Unlock()

	for _, handler := range snapshot {
		handler(value)
	}
}

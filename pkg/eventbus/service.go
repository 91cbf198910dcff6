// Package eventbus fans connection events out to in-process subscribers.
package eventbus

import "sync"

type handler[T any] struct {
	id uint64
	fn func(T)
}

// Bus delivers synchronously on the emitting goroutine, in subscription order.
// Handlers may subscribe or unsubscribe from inside a callback.
type Bus struct {
	mu     sync.Mutex
	nextID uint64

	connect    []handler[ConnectEvent]
	disconnect []handler[DisconnectEvent]
	data       []handler[DataEvent]
	errors     []handler[ErrorEvent]
	logs       []handler[LogEvent]
}

func New() *Bus {
	return &Bus{}
}

func add[T any](b *Bus, list *[]handler[T], topic Topic, fn func(T)) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	*list = append(*list, handler[T]{id: b.nextID, fn: fn})
	return Subscription{topic: topic, id: b.nextID}
}

func remove[T any](list *[]handler[T], id uint64) bool {
	for i, h := range *list {
		if h.id == id {
			// Copy so an in-flight emit keeps its own slice
			next := make([]handler[T], 0, len(*list)-1)
			next = append(next, (*list)[:i]...)
			*list = append(next, (*list)[i+1:]...)
			return true
		}
	}
	return false
}

func emit[T any](b *Bus, list *[]handler[T], ev T) {
	b.mu.Lock()
	handlers := *list
	b.mu.Unlock()

	for _, h := range handlers {
		h.fn(ev)
	}
}

func (b *Bus) OnConnect(fn func(ConnectEvent)) Subscription {
	return add(b, &b.connect, TopicConnect, fn)
}

func (b *Bus) OnDisconnect(fn func(DisconnectEvent)) Subscription {
	return add(b, &b.disconnect, TopicDisconnect, fn)
}

func (b *Bus) OnData(fn func(DataEvent)) Subscription {
	return add(b, &b.data, TopicData, fn)
}

func (b *Bus) OnError(fn func(ErrorEvent)) Subscription {
	return add(b, &b.errors, TopicError, fn)
}

func (b *Bus) OnLog(fn func(LogEvent)) Subscription {
	return add(b, &b.logs, TopicLog, fn)
}

// Unsubscribe removes the handler behind sub. It reports false for unknown or
// already removed subscriptions.
func (b *Bus) Unsubscribe(sub Subscription) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch sub.topic {
	case TopicConnect:
		return remove(&b.connect, sub.id)
	case TopicDisconnect:
		return remove(&b.disconnect, sub.id)
	case TopicData:
		return remove(&b.data, sub.id)
	case TopicError:
		return remove(&b.errors, sub.id)
	case TopicLog:
		return remove(&b.logs, sub.id)
	}
	return false
}

func (b *Bus) EmitConnect(ev ConnectEvent)       { emit(b, &b.connect, ev) }
func (b *Bus) EmitDisconnect(ev DisconnectEvent) { emit(b, &b.disconnect, ev) }
func (b *Bus) EmitData(ev DataEvent)             { emit(b, &b.data, ev) }
func (b *Bus) EmitError(ev ErrorEvent)           { emit(b, &b.errors, ev) }
func (b *Bus) EmitLog(ev LogEvent)               { emit(b, &b.logs, ev) }

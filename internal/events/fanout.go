package events

import (
	"sync"

	"github.com/rs/zerolog"
)

// Fanout delivers values to listeners synchronously, in subscription order.
// A listener that panics is logged and skipped; the rest still receive the value.
type Fanout[T any] struct {
	mu        sync.Mutex
	nextID    uint64
	listeners []subscription[T]
	logger    *zerolog.Logger
}

type subscription[T any] struct {
	id uint64
	fn func(T)
}

func NewFanout[T any](logger *zerolog.Logger) *Fanout[T] {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Fanout[T]{logger: logger}
}

// Subscribe adds fn and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (f *Fanout[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	f.mu.Lock()
	f.nextID++
	id := f.nextID
	f.listeners = append(f.listeners, subscription[T]{id: id, fn: fn})
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { f.remove(id) })
	}
}

func (f *Fanout[T]) remove(id uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.listeners {
		if s.id == id {
			f.listeners = append(f.listeners[:i:i], f.listeners[i+1:]...)
			return
		}
	}
}

// Len returns the number of active listeners.
func (f *Fanout[T]) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.listeners)
}

// Clear removes every listener.
func (f *Fanout[T]) Clear() {
	f.mu.Lock()
	f.listeners = nil
	f.mu.Unlock()
}

// Publish calls every listener registered at the time of the call.
func (f *Fanout[T]) Publish(value T) {
	f.mu.Lock()
	listeners := append([]subscription[T](nil), f.listeners...)
	f.mu.Unlock()

	for _, s := range listeners {
		f.deliver(s, value)
	}
}

func (f *Fanout[T]) deliver(s subscription[T], value T) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error().Interface("panic", r).Uint64("listener", s.id).Msg("listener panicked")
		}
	}()
	s.fn(value)
}

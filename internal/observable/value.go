// Package observable provides a state container that notifies subscribers
// whenever its value is replaced.
package observable

import "sync"

// Value holds a snapshot of T and broadcasts every new snapshot.
//
// Subscriber channels have a buffer of one and always hold the latest
// snapshot: a slow subscriber misses intermediate values but never the most
// recent one, and Set never blocks on a subscriber.
type Value[T any] struct {
	mu   sync.RWMutex
	v    T
	subs map[chan T]struct{}
}

// New returns a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{v: initial, subs: make(map[chan T]struct{})}
}

// Get returns the current snapshot.
func (o *Value[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.v
}

// Set replaces the snapshot and notifies subscribers.
func (o *Value[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.v = v
	o.notify()
}

// Update applies fn to the current snapshot atomically and stores the result.
func (o *Value[T]) Update(fn func(T) T) T {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.v = fn(o.v)
	o.notify()
	return o.v
}

// Subscribe returns a channel receiving every new snapshot and a function
// that cancels the subscription and closes the channel.
func (o *Value[T]) Subscribe() (<-chan T, func()) {
	ch := make(chan T, 1)
	o.mu.Lock()
	o.subs[ch] = struct{}{}
	o.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, ch)
			o.mu.Unlock()
			close(ch)
		})
	}
}

// notify must be called with o.mu held for writing.
func (o *Value[T]) notify() {
	for ch := range o.subs {
		// Replace a pending snapshot the subscriber has not read yet.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- o.v:
		default:
		}
	}
}

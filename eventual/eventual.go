// Copyright 2025 The indexer-go Authors
// This file is part of the indexer-go library.
//
// The indexer-go library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The indexer-go library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the indexer-go library. If not, see <http://www.gnu.org/licenses/>.

package eventual

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/event"
)

// Eventual holds the latest value produced by some background task and lets
// consumers read it or subscribe to changes. Pushes are equality-suppressed:
// subscribers only see values that differ from the previous one under the
// configured comparison.
type Eventual[T any] struct {
	mu    sync.Mutex
	value T
	valid bool
	equal func(a, b T) bool

	feed    event.FeedOf[T]
	scope   event.SubscriptionScope
	firstCh chan struct{} // closed on the first Set
	first   sync.Once
}

// New creates an empty Eventual. equal may be nil, in which case every Set
// pushes to subscribers.
func New[T any](equal func(a, b T) bool) *Eventual[T] {
	return &Eventual[T]{
		equal:   equal,
		firstCh: make(chan struct{}),
	}
}

// Set replaces the current value. The value is pushed to subscribers unless
// it compares equal to the previous one.
func (e *Eventual[T]) Set(next T) {
	e.mu.Lock()
	suppress := e.valid && e.equal != nil && e.equal(e.value, next)
	e.value = next
	e.valid = true
	e.mu.Unlock()

	e.first.Do(func() { close(e.firstCh) })
	if !suppress {
		e.feed.Send(next)
	}
}

// Get returns the current value and whether one has been set yet.
func (e *Eventual[T]) Get() (T, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.value, e.valid
}

// Value blocks until a value is available or ctx is cancelled.
func (e *Eventual[T]) Value(ctx context.Context) (T, error) {
	select {
	case <-e.firstCh:
		v, _ := e.Get()
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Subscribe registers ch for change pushes. The current value, if any, is not
// replayed; use Get for the snapshot.
func (e *Eventual[T]) Subscribe(ch chan<- T) event.Subscription {
	return e.scope.Track(e.feed.Subscribe(ch))
}

// Close unsubscribes all current subscribers.
func (e *Eventual[T]) Close() {
	e.scope.Close()
}

// ReduceTimer couples a sequential timer to an Eventual: every interval the
// reducer is handed the previous accumulator and its return value becomes the
// new observable value. A reducer error keeps the previous value and is
// reported through the timer's error hook. The timer is returned stopped;
// call Start on it.
func ReduceTimer[T any](interval time.Duration, initial T, equal func(a, b T) bool, reduce func(ctx context.Context, prev T) (T, error), opts ...TimerOption) (*Eventual[T], *Timer) {
	out := New[T](equal)
	acc := initial
	timer := NewTimer(interval, func(ctx context.Context) error {
		next, err := reduce(ctx, acc)
		if err != nil {
			return err
		}
		acc = next
		out.Set(next)
		return nil
	}, opts...)
	return out, timer
}

// MapTimer is ReduceTimer without an accumulator: the mapper produces a fresh
// value each interval.
func MapTimer[T any](interval time.Duration, equal func(a, b T) bool, produce func(ctx context.Context) (T, error), opts ...TimerOption) (*Eventual[T], *Timer) {
	return ReduceTimer(interval, *new(T), equal, func(ctx context.Context, _ T) (T, error) {
		return produce(ctx)
	}, opts...)
}

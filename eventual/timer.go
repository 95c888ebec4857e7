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

// Package eventual provides the two scheduling primitives shared by the
// settlement loops: a sequential timer whose runs never overlap, and a
// latest-value observable with equality-suppressed pushes.
package eventual

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// overrunGrace is how far past the interval a single run may take before the
// timer logs a warning about it.
const overrunGrace = 5 * time.Second

// Timer drives a work function on a cooperative loop. The next run is
// scheduled interval after the previous run completes, so two runs never
// overlap and missed intervals are not queued up.
type Timer struct {
	interval time.Duration
	work     func(context.Context) error
	onError  func(error)
	logger   log.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// TimerOption configures a Timer.
type TimerOption func(*Timer)

// WithOnError installs an error hook invoked with every error returned by the
// work function. The loop continues regardless.
func WithOnError(hook func(error)) TimerOption {
	return func(t *Timer) { t.onError = hook }
}

// WithLogger replaces the timer's logger.
func WithLogger(logger log.Logger) TimerOption {
	return func(t *Timer) { t.logger = logger }
}

// NewTimer creates a stopped timer. Call Start to begin ticking.
func NewTimer(interval time.Duration, work func(context.Context) error, opts ...TimerOption) *Timer {
	t := &Timer{
		interval: interval,
		work:     work,
		logger:   log.Root(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Start launches the tick loop. The first run happens after one interval.
// Cancelling ctx has the same effect as Stop: the loop exits at the next tick
// boundary, letting an in-flight run complete.
func (t *Timer) Start(ctx context.Context) {
	t.startOnce.Do(func() {
		go t.loop(ctx)
	})
}

func (t *Timer) loop(ctx context.Context) {
	defer close(t.done)

	timer := time.NewTimer(t.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.quit:
			return
		case <-timer.C:
		}

		start := time.Now()
		if err := t.work(ctx); err != nil {
			if t.onError != nil {
				t.onError(err)
			} else {
				t.logger.Warn("Periodic task failed", "err", err)
			}
		}
		if elapsed := time.Since(start); elapsed > t.interval+overrunGrace {
			t.logger.Warn("Periodic task overran its interval", "interval", t.interval, "elapsed", elapsed)
		}
		// Completion-relative scheduling: the interval starts counting now,
		// not at the beginning of the run.
		timer.Reset(t.interval)
	}
}

// Stop terminates the loop at the next tick boundary and waits for it to
// exit. An in-flight run is allowed to complete.
func (t *Timer) Stop() {
	t.stopOnce.Do(func() { close(t.quit) })
	<-t.done
}

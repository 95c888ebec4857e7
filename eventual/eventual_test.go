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
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestTimerSequential(t *testing.T) {
	var (
		running int32
		overlap int32
		ticks   = make(chan struct{}, 16)
	)
	timer := NewTimer(time.Millisecond, func(ctx context.Context) error {
		if atomic.AddInt32(&running, 1) > 1 {
			atomic.StoreInt32(&overlap, 1)
		}
		time.Sleep(5 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		select {
		case ticks <- struct{}{}:
		default:
		}
		return nil
	})
	timer.Start(context.Background())
	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for tick")
		}
	}
	timer.Stop()
	if atomic.LoadInt32(&overlap) != 0 {
		t.Fatal("work invocations overlapped")
	}
}

func TestTimerErrorHookKeepsTicking(t *testing.T) {
	var errs int32
	ticks := make(chan struct{}, 16)
	timer := NewTimer(time.Millisecond, func(ctx context.Context) error {
		select {
		case ticks <- struct{}{}:
		default:
		}
		return errors.New("boom")
	}, WithOnError(func(err error) {
		atomic.AddInt32(&errs, 1)
	}))
	timer.Start(context.Background())
	for i := 0; i < 3; i++ {
		select {
		case <-ticks:
		case <-time.After(time.Second):
			t.Fatal("loop stopped after a failed tick")
		}
	}
	timer.Stop()
	if atomic.LoadInt32(&errs) == 0 {
		t.Fatal("error hook never invoked")
	}
}

func TestTimerStopWaitsForInflight(t *testing.T) {
	done := make(chan struct{})
	started := make(chan struct{})
	timer := NewTimer(time.Millisecond, func(ctx context.Context) error {
		close(started)
		time.Sleep(20 * time.Millisecond)
		close(done)
		return nil
	})
	timer.Start(context.Background())
	<-started
	timer.Stop()
	select {
	case <-done:
	default:
		t.Fatal("Stop returned before the in-flight run completed")
	}
}

func TestEventualEqualitySuppression(t *testing.T) {
	e := New[int](func(a, b int) bool { return a == b })
	ch := make(chan int, 8)
	sub := e.Subscribe(ch)
	defer sub.Unsubscribe()

	e.Set(1)
	e.Set(1) // suppressed
	e.Set(2)

	var got []int
	for len(got) < 2 {
		select {
		case v := <-ch:
			got = append(got, v)
		case <-time.After(time.Second):
			t.Fatalf("timeout, received %v", got)
		}
	}
	select {
	case v := <-ch:
		t.Fatalf("unexpected extra push %d", v)
	case <-time.After(10 * time.Millisecond):
	}
	if got[0] != 1 || got[1] != 2 {
		t.Fatalf("pushes mismatch: have %v want [1 2]", got)
	}
}

func TestEventualValueBlocks(t *testing.T) {
	e := New[string](nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := e.Value(ctx); err == nil {
		t.Fatal("Value should fail on an empty eventual when ctx expires")
	}

	e.Set("ready")
	v, err := e.Value(context.Background())
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	if v != "ready" {
		t.Fatalf("value mismatch: have %q want %q", v, "ready")
	}
}

func TestReduceTimerKeepsValueOnError(t *testing.T) {
	var fail atomic.Bool
	out, timer := ReduceTimer(time.Millisecond, 0,
		func(a, b int) bool { return a == b },
		func(ctx context.Context, prev int) (int, error) {
			if fail.Load() {
				return 0, errors.New("transient")
			}
			return prev + 1, nil
		},
		WithOnError(func(error) {}),
	)
	timer.Start(context.Background())
	defer timer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := out.Value(ctx); err != nil {
		t.Fatalf("no value produced: %v", err)
	}
	fail.Store(true)
	time.Sleep(20 * time.Millisecond)
	v, ok := out.Get()
	if !ok || v < 1 {
		t.Fatalf("failed reduce should keep the prior value, have %d ok=%v", v, ok)
	}
}

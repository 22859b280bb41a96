/*
 * Copyright 2021. Go-SmartProxy Author All Rights Reserved.
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */

// Package worker provides the per-connection event loop of the proxy: a
// single goroutine that executes posted tasks and time-delayed calls in
// order. Sessions and their backend connections are pinned to one worker,
// so code running on it needs no locking for worker-owned state.
package worker

import (
	"container/heap"
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/endink/go-smartproxy/logging"
)

var logger = logging.GetLogger("worker")

type delayedTask struct {
	deadline time.Time
	exec     func()
	cancel   func()
	index    int
}

type delayedHeap []*delayedTask

func (h delayedHeap) Len() int            { return len(h) }
func (h delayedHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h delayedHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *delayedHeap) Push(x interface{}) { t := x.(*delayedTask); t.index = len(*h); *h = append(*h, t) }
func (h *delayedHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Worker runs tasks on a single goroutine. Posted tasks run in FIFO order;
// delayed calls run no earlier than their deadline, at most once. When the
// worker shuts down, delayed calls that have not fired run their cancel
// hook instead of their exec hook, so that captured references and buffers
// are released.
type Worker struct {
	name string

	mu      sync.Mutex
	pending *queue.Queue
	delayed delayedHeap
	started bool
	stopped bool

	wake chan struct{}
	quit chan struct{}
	done chan struct{}
}

// New creates a worker. The returned worker is not running until Start is
// called.
func New(name string) *Worker {
	return &Worker{
		name:    name,
		pending: queue.New(),
		wake:    make(chan struct{}, 1),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Start launches the worker goroutine. Starting twice, or after Stop, is
// a no-op.
func (w *Worker) Start() {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.run()
}

// Stop shuts the worker down and waits for the goroutine to exit. Pending
// delayed calls are cancelled, not executed. Stopping a worker that never
// started runs the cancel hooks on the calling goroutine.
func (w *Worker) Stop() {
	w.mu.Lock()
	if w.stopped {
		started := w.started
		w.mu.Unlock()
		if started {
			<-w.done
		}
		return
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	if !started {
		w.shutdown()
		return
	}

	close(w.quit)
	<-w.done
}

// Post schedules fn to run on the worker goroutine. Returns false if the
// worker has been stopped.
func (w *Worker) Post(fn func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	w.pending.Add(fn)
	w.kick()
	return true
}

// DelayedCall schedules exec to run on the worker goroutine no earlier
// than delay from now, at most once. If the worker stops first, cancel
// runs instead, still on the worker goroutine. Returns false if the worker
// has been stopped, in which case neither hook will ever run.
func (w *Worker) DelayedCall(delay time.Duration, exec func(), cancel func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return false
	}
	heap.Push(&w.delayed, &delayedTask{
		deadline: time.Now().Add(delay),
		exec:     exec,
		cancel:   cancel,
	})
	w.kick()
	return true
}

// kick wakes the loop; callers hold w.mu.
func (w *Worker) kick() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *Worker) run() {
	defer close(w.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		w.drainPending()
		w.runDue()

		next, ok := w.nextDeadline()
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		if ok {
			timer.Reset(time.Until(next))
		}

		if ok {
			select {
			case <-w.wake:
			case <-timer.C:
			case <-w.quit:
				w.shutdown()
				return
			}
		} else {
			select {
			case <-w.wake:
			case <-w.quit:
				w.shutdown()
				return
			}
		}
	}
}

func (w *Worker) drainPending() {
	for {
		w.mu.Lock()
		if w.pending.Length() == 0 {
			w.mu.Unlock()
			return
		}
		fn := w.pending.Remove().(func())
		w.mu.Unlock()

		fn()
	}
}

func (w *Worker) runDue() {
	now := time.Now()
	for {
		w.mu.Lock()
		if w.delayed.Len() == 0 || w.delayed[0].deadline.After(now) {
			w.mu.Unlock()
			return
		}
		task := heap.Pop(&w.delayed).(*delayedTask)
		w.mu.Unlock()

		task.exec()
	}
}

func (w *Worker) nextDeadline() (time.Time, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.delayed.Len() == 0 {
		return time.Time{}, false
	}
	return w.delayed[0].deadline, true
}

func (w *Worker) shutdown() {
	w.mu.Lock()
	tasks := w.delayed
	w.delayed = nil
	dropped := w.pending.Length()
	w.pending = queue.New()
	w.mu.Unlock()

	if dropped > 0 {
		logger.Warnf("worker %s stopping with %d queued tasks dropped", w.name, dropped)
	}

	for _, task := range tasks {
		if task.cancel != nil {
			task.cancel()
		}
	}
}

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

package worker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostRunsInOrder(t *testing.T) {
	w := New("test")
	w.Start()
	defer w.Stop()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 10; i++ {
		i := i
		require.True(t, w.Post(func() {
			mu.Lock()
			got = append(got, i)
			if len(got) == 10 {
				close(done)
			}
			mu.Unlock()
		}))
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("tasks did not run")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestDelayedCallFiresOnce(t *testing.T) {
	w := New("test")
	w.Start()
	defer w.Stop()

	fired := make(chan time.Time, 2)
	start := time.Now()

	require.True(t, w.DelayedCall(20*time.Millisecond, func() {
		fired <- time.Now()
	}, nil))

	select {
	case at := <-fired:
		assert.True(t, at.Sub(start) >= 20*time.Millisecond)
	case <-time.After(time.Second):
		t.Fatal("delayed call did not fire")
	}

	select {
	case <-fired:
		t.Fatal("delayed call fired twice")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestStopCancelsDelayedCalls(t *testing.T) {
	w := New("test")
	w.Start()

	executed := false
	cancelled := false

	require.True(t, w.DelayedCall(time.Hour, func() {
		executed = true
	}, func() {
		cancelled = true
	}))

	w.Stop()

	assert.False(t, executed)
	assert.True(t, cancelled)
}

func TestStoppedWorkerRejectsWork(t *testing.T) {
	w := New("test")
	w.Start()
	w.Stop()

	assert.False(t, w.Post(func() {}))
	assert.False(t, w.DelayedCall(time.Millisecond, func() {}, nil))
}

func TestStopWithoutStartCancelsQueuedWork(t *testing.T) {
	w := New("test")

	cancelled := false
	require.True(t, w.DelayedCall(time.Hour, func() {}, func() {
		cancelled = true
	}))

	done := make(chan struct{})
	go func() {
		w.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop blocked on a worker that never started")
	}

	assert.True(t, cancelled)
	assert.False(t, w.Post(func() {}))
	w.Start()
	assert.False(t, w.Post(func() {}))
}

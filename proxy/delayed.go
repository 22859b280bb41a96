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

package proxy

import (
	"time"

	"github.com/endink/go-smartproxy/mysql"
)

// delayedRoutingTask re-enters routing for a captured query after a
// delay. It holds a strong reference to the session for its whole
// lifetime, released exactly once, whether the task executes or is
// cancelled by worker shutdown.
type delayedRoutingTask struct {
	session *Session
	down    Downstream
	buffer  mysql.Packet
}

func (t *delayedRoutingTask) execute() {
	defer t.release()

	if t.session.State() != SessionStarted {
		// The session went away while the task was queued; the buffered
		// query is dropped without forwarding.
		return
	}

	buffer := t.buffer
	t.buffer = nil

	if t.down.RouteQuery(buffer) == 0 {
		// Routing failed, send a hangup to the client.
		t.session.ClientConnection().TriggerHangup()
	}
}

func (t *delayedRoutingTask) release() {
	t.buffer = nil
	t.session.Unref()
}

// DelayRouting schedules buf to be routed to down after at least delay,
// on the session's worker. Returns false when the task could not be
// scheduled; the caller must then treat the query as not delayed.
func (s *Session) DelayRouting(down Downstream, buf mysql.Packet, delay time.Duration) bool {
	task := &delayedRoutingTask{
		session: s.Ref(),
		down:    down,
		buffer:  buf,
	}

	// Delay the routing for at least a millisecond.
	if delay < time.Millisecond {
		delay = time.Millisecond
	}

	if !s.worker.DelayedCall(delay, task.execute, task.release) {
		task.release()
		return false
	}
	return true
}

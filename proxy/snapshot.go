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
	"encoding/json"
	"time"
)

// QuerySnapshot is a read-only view of one retained statement for the
// admin reporting surface.
type QuerySnapshot struct {
	Command   byte               `json:"command"`
	Statement string             `json:"statement,omitempty"`
	Received  time.Time          `json:"received"`
	Completed *time.Time         `json:"completed,omitempty"`
	Responses []ResponseSnapshot `json:"responses"`
}

// ResponseSnapshot is one booked backend response, with the duration
// relative to statement receipt in milliseconds.
type ResponseSnapshot struct {
	Server   string `json:"server"`
	Duration int64  `json:"duration"`
}

// SessionSnapshot is a read-only view of a session for the admin
// reporting surface.
type SessionSnapshot struct {
	ID        uint64          `json:"id"`
	State     string          `json:"state"`
	Service   string          `json:"service"`
	User      string          `json:"user,omitempty"`
	Remote    string          `json:"remote"`
	Connected time.Time       `json:"connected"`
	Idle      float64         `json:"idle"`
	Queries   []QuerySnapshot `json:"queries"`
	Log       []string        `json:"log"`
}

// Snapshot captures the session's reportable state. It must be called on
// the session's owning worker.
func (s *Session) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		ID:        s.id,
		State:     s.state.String(),
		Service:   s.cfg.Service,
		User:      s.user,
		Remote:    s.Remote(),
		Connected: s.connected,
		Idle:      s.IdleTime().Seconds(),
		Queries:   s.QueriesSnapshot(),
		Log:       append([]string(nil), s.sessionLog...),
	}
}

// AsJSON renders the snapshot for the admin reporting surface.
func (s *Session) AsJSON() ([]byte, error) {
	return json.Marshal(s.Snapshot())
}

// QueriesSnapshot captures the retained statement history, newest first.
func (s *Session) QueriesSnapshot() []QuerySnapshot {
	values := s.lastQueries.Values()
	queries := make([]QuerySnapshot, 0, len(values))

	for _, v := range values {
		info := v.(*QueryInfo)

		q := QuerySnapshot{
			Command:   info.Command(),
			Statement: info.Statement(),
			Received:  info.received,
		}
		if info.complete {
			completed := info.completed
			q.Completed = &completed
		}
		for _, r := range info.responses {
			q.Responses = append(q.Responses, ResponseSnapshot{
				Server:   r.Target,
				Duration: r.Processed.Sub(info.received).Milliseconds(),
			})
		}

		queries = append(queries, q)
	}

	return queries
}

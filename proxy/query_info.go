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

// ServerResponse records one backend answering the statement.
type ServerResponse struct {
	Target    string    `json:"server"`
	Processed time.Time `json:"processed"`
}

// QueryInfo is one entry of the bounded statement history.
type QueryInfo struct {
	query     mysql.Packet
	received  time.Time
	completed time.Time
	complete  bool
	responses []ServerResponse
}

func newQueryInfo(query mysql.Packet) *QueryInfo {
	return &QueryInfo{
		query:    query,
		received: time.Now(),
	}
}

func (q *QueryInfo) bookServerResponse(target string, finalResponse bool) {
	// Once complete, no more information may be provided.
	if q.complete {
		return
	}

	now := time.Now()
	q.responses = append(q.responses, ServerResponse{Target: target, Processed: now})

	q.complete = finalResponse
	if q.complete {
		q.completed = now
	}
}

func (q *QueryInfo) bookAsComplete() {
	q.completed = time.Now()
	q.complete = true
}

func (q *QueryInfo) resetServerBookkeeping() {
	q.responses = nil
	q.completed = time.Time{}
	q.complete = false
}

// Statement returns the SQL text of a COM_QUERY entry, or "" for other
// commands.
func (q *QueryInfo) Statement() string {
	if q.query.Command() != mysql.ComQuery {
		return ""
	}
	return string(q.query.Payload()[1:])
}

// Command returns the request command byte.
func (q *QueryInfo) Command() byte {
	return q.query.Command()
}

// Complete returns true once the final response was booked.
func (q *QueryInfo) Complete() bool {
	return q.complete
}

// Responses returns the booked backend responses.
func (q *QueryInfo) Responses() []ServerResponse {
	return q.responses
}

// RetainStatement pushes a statement onto the history, evicting the
// oldest entry beyond the configured depth. The current-query index moves
// with the push.
func (s *Session) RetainStatement(buf mysql.Packet) {
	if s.cfg.RetainLastStatements <= 0 {
		return
	}

	s.lastQueries.Prepend(newQueryInfo(buf.Clone()))

	if s.lastQueries.Size() > s.cfg.RetainLastStatements {
		s.lastQueries.Remove(s.lastQueries.Size() - 1)
	}

	if s.lastQueries.Size() == 1 {
		s.currentQuery = 0
	} else {
		// If requests are streamed, without the response being waited
		// for, then this may cause the index to grow past the length of
		// the history. That's ok and is dealt with in
		// BookServerResponse and friends.
		s.currentQuery++
	}
}

// BookServerResponse records that a backend produced a response for the
// current statement.
func (s *Session) BookServerResponse(target string, finalResponse bool) {
	if s.cfg.RetainLastStatements <= 0 || s.lastQueries.Empty() {
		return
	}

	// If enough queries have been sent by the client, without it waiting
	// for the responses, then at this point it may be so that the query
	// entry has been evicted from the size limited history. That's
	// apparent by the index pointing past the end of the history. In
	// that case we simply ignore the result.
	if info := s.queryAt(s.currentQuery); info != nil {
		info.bookServerResponse(target, finalResponse)
	}

	if finalResponse {
		// In case what is described in the comment above has occurred,
		// this will eventually take the index back into the history.
		s.currentQuery--
	}
}

// BookLastAsComplete marks the current statement complete without a
// backend response.
func (s *Session) BookLastAsComplete() {
	if s.cfg.RetainLastStatements <= 0 || s.lastQueries.Empty() {
		return
	}
	if info := s.queryAt(s.currentQuery); info != nil {
		info.bookAsComplete()
	}
}

// ResetServerBookkeeping clears the backend responses of the current
// statement.
func (s *Session) ResetServerBookkeeping() {
	if s.cfg.RetainLastStatements <= 0 || s.lastQueries.Empty() {
		return
	}
	if info := s.queryAt(s.currentQuery); info != nil {
		info.resetServerBookkeeping()
	}
}

// queryAt returns the history entry at index, or nil when the index has
// outrun the bounded history. Accesses always guard on bounds; the index
// excess itself is used to skip bookkeeping for evicted entries.
func (s *Session) queryAt(index int) *QueryInfo {
	if index < 0 || index >= s.lastQueries.Size() {
		return nil
	}
	v, ok := s.lastQueries.Get(index)
	if !ok {
		return nil
	}
	return v.(*QueryInfo)
}

// LastStatements returns the retained history, oldest first.
func (s *Session) LastStatements() []*QueryInfo {
	values := s.lastQueries.Values()
	result := make([]*QueryInfo, 0, len(values))
	for i := len(values) - 1; i >= 0; i-- {
		result = append(result, values[i].(*QueryInfo))
	}
	return result
}

// DumpStatements logs the retained statements, oldest first.
func (s *Session) DumpStatements() {
	if s.cfg.RetainLastStatements <= 0 {
		return
	}

	n := s.lastQueries.Size()
	for _, info := range s.LastStatements() {
		if stmt := info.Statement(); stmt != "" {
			logger.Infof("(%d) Stmt %d(%s): %s",
				s.id, n, info.received.Format("2006-01-02 15:04:05"), stmt)
		}
		n--
	}
}

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

	"github.com/emirpasic/gods/lists/doublylinkedlist"
	"github.com/pingcap/errors"

	"github.com/endink/go-smartproxy/logging"
	"github.com/endink/go-smartproxy/mysql"
	"github.com/endink/go-smartproxy/util/sync2"
	"github.com/endink/go-smartproxy/util/worker"
)

var logger = logging.GetLogger("session")

// nextSessionID is the process-wide session id counter. Value 0 is
// reserved for dummy/unused sessions.
var nextSessionID sync2.AtomicInt64

// NextSessionID returns a fresh session id.
func NextSessionID() uint64 {
	return uint64(nextSessionID.Add(1))
}

// SessionState is the linear lifecycle of a session. There are no cycles
// back.
type SessionState int32

const (
	// SessionCreated is the state before Start succeeds.
	SessionCreated SessionState = iota

	// SessionStarted is the normal serving state.
	SessionStarted

	// SessionStopping means the session is being torn down.
	SessionStopping

	// SessionFailed means construction-time validation failed. Terminal,
	// reached only from SessionCreated, and never after a reference was
	// shared.
	SessionFailed

	// SessionFree means the last reference was dropped and the session
	// is destroyed.
	SessionFree
)

func (s SessionState) String() string {
	switch s {
	case SessionCreated:
		return "Session created"
	case SessionStarted:
		return "Session started"
	case SessionStopping:
		return "Stopping session"
	case SessionFailed:
		return "Session creation failed"
	case SessionFree:
		return "Freed session"
	default:
		return "Invalid State"
	}
}

// TrxState is the client transaction state as tracked from the statement
// stream.
type TrxState int

const (
	TrxInactive TrxState = iota
	TrxActive
	TrxReadOnly
	TrxReadWrite
	TrxReadOnlyEnding
	TrxReadWriteEnding
)

func (t TrxState) String() string {
	switch t {
	case TrxInactive:
		return "TRX_INACTIVE"
	case TrxActive:
		return "TRX_ACTIVE"
	case TrxReadOnly:
		return "TRX_READ_ONLY"
	case TrxReadWrite:
		return "TRX_READ_WRITE"
	case TrxReadOnlyEnding:
		return "TRX_READ_ONLY_ENDING"
	case TrxReadWriteEnding:
		return "TRX_READ_WRITE_ENDING"
	default:
		return "UNKNOWN"
	}
}

// IsActive returns true while a transaction is open.
func (t TrxState) IsActive() bool {
	return t != TrxInactive
}

// DumpMode selects when a session dumps its retained statements to the log.
type DumpMode int

const (
	DumpNever DumpMode = iota
	DumpOnClose
	DumpOnError
)

func (d DumpMode) String() string {
	switch d {
	case DumpNever:
		return "never"
	case DumpOnClose:
		return "on_close"
	case DumpOnError:
		return "on_error"
	default:
		return "unknown"
	}
}

// Config is the per-session configuration, read once at construction. A
// session never consults ambient global state afterwards.
type Config struct {
	// Service is the name of the service the session belongs to.
	Service string

	// RetainLastStatements is the depth of the statement history. 0
	// disables retention.
	RetainLastStatements int

	// DumpStatements selects when retained statements are logged.
	DumpStatements DumpMode

	// SessionTrace is the depth of the in-memory session log ring. 0
	// disables it.
	SessionTrace int
}

// Session represents one client's logical connection and its routing
// state. It exclusively owns the client-side connection for its lifetime
// and is shared by reference count with every linked backend connection
// and every in-flight deferred task.
type Session struct {
	id    uint64
	state SessionState

	// refcount is atomic: a backend connection closing on another worker
	// or a deferred task may drop the last reference concurrently with
	// the owning worker.
	refcount sync2.AtomicInt32

	trxState TrxState

	cfg    Config
	stats  *ServiceStats
	client ClientProtocol
	down   Downstream
	worker *worker.Worker

	user         string
	connected    time.Time
	lastActivity time.Time

	variables map[string]sessionVariable

	// lastQueries is the bounded statement history, newest first.
	lastQueries  *doublylinkedlist.List
	currentQuery int

	// response is the pending deferred response slot used by filters to
	// short-circuit routing. Set by exactly one producer at a time and
	// fully drained before the next set.
	response struct {
		up     Upstream
		buffer mysql.Packet
	}

	sessionLog []string
}

// NewSession builds a session around an established client connection and
// a downstream target. On a validation failure the returned session is in
// SessionFailed state and must not be shared.
func NewSession(cfg Config, client ClientProtocol, down Downstream, wkr *worker.Worker, stats *ServiceStats) (*Session, error) {
	now := time.Now()
	s := &Session{
		id:           NextSessionID(),
		state:        SessionCreated,
		refcount:     sync2.NewAtomicInt32(1),
		cfg:          cfg,
		stats:        stats,
		client:       client,
		down:         down,
		worker:       wkr,
		connected:    now,
		lastActivity: now,
		variables:    make(map[string]sessionVariable),
		lastQueries:  doublylinkedlist.New(),
		currentQuery: -1,
	}

	if client == nil || down == nil {
		s.state = SessionFailed
		return s, errors.New("session requires a client connection and a downstream target")
	}

	return s, nil
}

// ID returns the session id. Ids are assigned from 1 up; 0 means "no
// session".
func (s *Session) ID() uint64 {
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() SessionState {
	return s.state
}

// TrxState returns the transaction state.
func (s *Session) TrxState() TrxState {
	return s.trxState
}

// SetTrxState updates the transaction state and returns the previous one.
func (s *Session) SetTrxState(state TrxState) TrxState {
	prev := s.trxState
	s.trxState = state
	return prev
}

// User returns the authenticated client user.
func (s *Session) User() string {
	return s.user
}

// SetUser records the authenticated client user.
func (s *Session) SetUser(user string) {
	s.user = user
}

// Remote returns the client address.
func (s *Session) Remote() string {
	if s.client == nil {
		return ""
	}
	return s.client.Remote()
}

// ConnectTime returns when the session was created.
func (s *Session) ConnectTime() time.Time {
	return s.connected
}

// IdleTime returns how long the session has had no traffic in either
// direction.
func (s *Session) IdleTime() time.Duration {
	return time.Since(s.lastActivity)
}

// Service returns the owning service name.
func (s *Session) Service() string {
	return s.cfg.Service
}

// ClientConnection returns the client-side connection.
func (s *Session) ClientConnection() ClientProtocol {
	return s.client
}

// Worker returns the worker the session is pinned to.
func (s *Session) Worker() *worker.Worker {
	return s.worker
}

// Start connects the downstream chain and moves the session to
// SessionStarted. On failure the state is left unchanged.
func (s *Session) Start() bool {
	if s.state != SessionCreated || !s.down.Connect() {
		return false
	}

	s.state = SessionStarted
	if s.stats != nil {
		s.stats.NConnections.Add(1)
		s.stats.NCurrent.Add(1)
	}

	user := s.user
	if user == "" {
		user = "<no user>"
	}
	logger.Infof("Started %s client session [%d] for '%s' from %s",
		s.cfg.Service, s.id, user, s.Remote())
	return true
}

// Close moves the session to SessionStopping and closes the downstream
// chain.
func (s *Session) Close() {
	s.state = SessionStopping
	s.down.Close()
}

// Terminate stops a started session, optionally writing a final error
// packet to the client first. Only effective from SessionStarted; it is
// not safe against concurrent calls to itself.
func (s *Session) Terminate(errBuf mysql.Packet) {
	if s.state != SessionStarted {
		return
	}
	s.state = SessionStopping

	if errBuf != nil {
		// Write the error to the client before closing the connection.
		s.client.Write(errBuf)
	}
	s.client.Close()
}

// Ref takes a new reference and returns the same session.
func (s *Session) Ref() *Session {
	s.refcount.Add(1)
	return s
}

// Unref drops one reference. The reference that hits zero destroys the
// session.
func (s *Session) Unref() {
	if s.refcount.Add(-1) == 0 {
		s.free()
	}
}

func (s *Session) free() {
	logger.Infof("Stopped %s client session [%d]", s.cfg.Service, s.id)

	if s.cfg.DumpStatements == DumpOnClose {
		s.DumpStatements()
	}

	if s.stats != nil {
		s.stats.NCurrent.Add(-1)
	}
	if s.client != nil && s.client.IsOpen() {
		s.client.Close()
	}
	s.client = nil

	s.state = SessionFree
}

// RouteQuery forwards a client request to the downstream target. If a
// filter populated the response slot during the call, the slot is drained
// before returning. Returns the downstream routing result: 0 is failure.
func (s *Session) RouteQuery(buf mysql.Packet) int32 {
	s.lastActivity = time.Now()
	rv := s.down.RouteQuery(buf)

	if s.response.buffer != nil {
		// Something interrupted the routing and queued a response.
		s.deliverResponse()
	}

	return rv
}

// ClientReply writes a reply packet to the client connection, taking
// ownership of the packet.
func (s *Session) ClientReply(buf mysql.Packet, route ReplyRoute, reply Reply) int32 {
	s.lastActivity = time.Now()
	return s.client.Write(buf)
}

// HandleError forwards an error to the client and terminates the session.
// It always returns false: the failing endpoint must not be retried.
func (s *Session) HandleError(errBuf mysql.Packet, down Endpoint, reply Reply) bool {
	if s.cfg.DumpStatements == DumpOnError {
		s.DumpStatements()
	}
	s.ClientReply(errBuf, ReplyRoute{}, reply)
	s.Terminate(nil)
	return false
}

// SetResponse populates the deferred response slot. Only one filter may
// terminate the execution, and exactly once: setting an occupied slot is
// an invariant violation and the new response is dropped.
func (s *Session) SetResponse(up Upstream, buf mysql.Packet) {
	if up == nil || buf == nil {
		return
	}
	if s.response.up != nil || s.response.buffer != nil {
		logger.Errorf("Session [%d]: response slot already occupied, dropping new response", s.id)
		return
	}
	s.response.up = up
	s.response.buffer = buf
}

func (s *Session) deliverResponse() {
	up := s.response.up
	buffer := s.response.buffer
	if up == nil || buffer == nil {
		return
	}

	s.response.up = nil
	s.response.buffer = nil

	// The reply is always complete.
	up.ClientReply(buffer, ReplyRoute{}, Reply{})

	// If some filter short-circuits the routing, then there will be no
	// response from a server and we need to ensure that subsequent
	// book-keeping targets the right statement.
	s.BookLastAsComplete()
}

// AppendSessionLog records a line in the bounded in-memory session log.
func (s *Session) AppendSessionLog(line string) {
	if s.cfg.SessionTrace <= 0 {
		return
	}
	s.sessionLog = append([]string{line}, s.sessionLog...)
	if len(s.sessionLog) > s.cfg.SessionTrace {
		s.sessionLog = s.sessionLog[:s.cfg.SessionTrace]
	}
}

// DumpSessionLog writes the session log to the proxy log.
func (s *Session) DumpSessionLog() {
	if len(s.sessionLog) == 0 {
		return
	}
	log := ""
	for _, line := range s.sessionLog {
		log += line
	}
	logger.Infof("Session log for session (%d): \n%s", s.id, log)
}

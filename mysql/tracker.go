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

package mysql

// maxColumns is the largest column count a result set header may declare.
// Anything above it is a corrupt packet.
const maxColumns = 1 << 12

// TrackerState is the state of a PacketTracker.
type TrackerState int

const (
	// TrackerEmpty is the zero value: no request has been tracked yet.
	TrackerEmpty TrackerState = iota

	// TrackerInit expects the first packet of a streamed result.
	TrackerInit

	// TrackerOneReply expects exactly one reply packet.
	TrackerOneReply

	// TrackerFields expects result set column definition packets.
	TrackerFields

	// TrackerFieldEOF expects the EOF terminating the column definitions.
	TrackerFieldEOF

	// TrackerRows expects row packets until a terminating EOF.
	TrackerRows

	// TrackerComFieldList expects field packets until a terminating EOF.
	TrackerComFieldList

	// TrackerDone is terminal: the response is complete.
	TrackerDone

	// TrackerErrorPacket is terminal: the server sent a well formed error
	// reply. The response is complete but the statement failed.
	TrackerErrorPacket

	// TrackerError is terminal: the packet sequence violated the protocol.
	// The connection can no longer be trusted.
	TrackerError
)

func (s TrackerState) String() string {
	switch s {
	case TrackerEmpty:
		return "Empty"
	case TrackerInit:
		return "Init"
	case TrackerOneReply:
		return "OneReply"
	case TrackerFields:
		return "Fields"
	case TrackerFieldEOF:
		return "FieldEOF"
	case TrackerRows:
		return "Rows"
	case TrackerComFieldList:
		return "ComFieldList"
	case TrackerDone:
		return "Done"
	case TrackerErrorPacket:
		return "ErrorPacket"
	case TrackerError:
		return "Error"
	}
	return "Unknown"
}

// PacketTracker counts the outstanding request and response packets of one
// backend connection. It is driven purely by packet headers and markers,
// never by decoding full payloads. A tracker is built from the request
// packet and fed every subsequent packet in both directions; once it
// reaches a terminal state it stays there until replaced by a tracker for
// the next request.
type PacketTracker struct {
	state  TrackerState
	cmd    byte
	fields uint64

	// expectRequest is set while the client owes continuation packets of
	// an oversized request.
	expectRequest bool
}

// NewPacketTracker starts tracking the request in p.
func NewPacketTracker(p Packet) PacketTracker {
	t := PacketTracker{cmd: p.Command()}

	if p.PayloadLen() == MaxPacketSize {
		t.expectRequest = true
	}

	switch t.cmd {
	case ComQuit, ComStmtSendLongData, ComStmtClose:
		// No response at all.
		t.state = TrackerDone
	case ComQuery, ComStmtExecute:
		t.state = TrackerInit
	case ComFieldList:
		t.state = TrackerComFieldList
	default:
		t.state = TrackerOneReply
	}

	return t
}

// State returns the current state.
func (t *PacketTracker) State() TrackerState {
	return t.state
}

// UpdateRequest consumes a continuation packet of a split request.
func (t *PacketTracker) UpdateRequest(p Packet) {
	if !t.expectRequest {
		t.state = TrackerError
		return
	}
	if p.PayloadLen() < MaxPacketSize {
		t.expectRequest = false
	}
}

// UpdateResponse consumes one reply packet and advances the state.
func (t *PacketTracker) UpdateResponse(p Packet) {
	switch t.state {
	case TrackerInit:
		t.updateFirstPacket(p)

	case TrackerOneReply:
		if p.IsErr() {
			t.state = TrackerErrorPacket
		} else {
			t.state = TrackerDone
		}

	case TrackerFields:
		switch {
		case p.IsErr():
			t.state = TrackerErrorPacket
		case p.IsEOF():
			// Fields are still outstanding, the stream is corrupt.
			t.state = TrackerError
		default:
			t.fields--
			if t.fields == 0 {
				t.state = TrackerFieldEOF
			}
		}

	case TrackerFieldEOF:
		switch {
		case p.IsErr():
			t.state = TrackerErrorPacket
		case p.IsEOF():
			t.state = TrackerRows
		default:
			t.state = TrackerError
		}

	case TrackerRows:
		switch {
		case p.IsErr():
			t.state = TrackerErrorPacket
		case p.IsEOF():
			t.state = TrackerDone
		}

	case TrackerComFieldList:
		switch {
		case p.IsErr():
			t.state = TrackerErrorPacket
		case p.IsEOF():
			t.state = TrackerDone
		}

	default:
		// A response in Empty, Done or an error state violates the
		// protocol.
		t.state = TrackerError
	}
}

func (t *PacketTracker) updateFirstPacket(p Packet) {
	switch {
	case p.IsErr():
		t.state = TrackerErrorPacket
	case p.IsOK():
		t.state = TrackerDone
	case p.Command() == LocalInfilePacket:
		// LOAD DATA LOCAL INFILE turns the protocol around. Not supported
		// on this path.
		t.state = TrackerError
	default:
		columns, n, ok := readLenEncInt(p.Payload())
		if !ok || n != len(p.Payload()) || columns == 0 || columns > maxColumns {
			t.state = TrackerError
			return
		}
		t.fields = columns
		t.state = TrackerFields
	}
}

// ExpectingRequestPackets returns true while the client owes continuation
// packets of the current request.
func (t *PacketTracker) ExpectingRequestPackets() bool {
	switch t.state {
	case TrackerError, TrackerErrorPacket:
		return false
	}
	return t.expectRequest
}

// ExpectingResponsePackets returns true while the server owes reply
// packets for the current request.
func (t *PacketTracker) ExpectingResponsePackets() bool {
	switch t.state {
	case TrackerInit, TrackerOneReply, TrackerFields, TrackerFieldEOF,
		TrackerRows, TrackerComFieldList:
		return true
	}
	return false
}

// ExpectingMorePackets returns true while packets are outstanding in
// either direction.
func (t *PacketTracker) ExpectingMorePackets() bool {
	return t.ExpectingRequestPackets() || t.ExpectingResponsePackets()
}

/*
Copyright 2019 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import (
	"encoding/binary"
	"fmt"
)

// Packet is a single wire protocol packet, header included. Ownership is
// explicit: a Packet crossing a boundary that keeps it (delayed replies,
// queued tasks) must be passed as-is and the sender must stop using it, or
// be cloned with Clone. There is no implicit aliasing of a forwarded packet.
type Packet []byte

// Clone makes a deep copy of the packet.
func (p Packet) Clone() Packet {
	if p == nil {
		return nil
	}
	c := make(Packet, len(p))
	copy(c, p)
	return c
}

// PayloadLen returns the declared payload length from the packet header.
func (p Packet) PayloadLen() int {
	if len(p) < HeaderLen {
		return 0
	}
	return int(p[0]) | int(p[1])<<8 | int(p[2])<<16
}

// Seq returns the sequence id from the packet header.
func (p Packet) Seq() byte {
	if len(p) < HeaderLen {
		return 0
	}
	return p[3]
}

// Payload returns the packet body without the header.
func (p Packet) Payload() []byte {
	if len(p) <= HeaderLen {
		return nil
	}
	return p[HeaderLen:]
}

// Command returns the first payload byte: the command of a client request,
// or the type marker of a server reply.
func (p Packet) Command() byte {
	if len(p) <= HeaderLen {
		return 0
	}
	return p[HeaderLen]
}

// IsOK returns true if the packet is an OK reply packet.
func (p Packet) IsOK() bool {
	// An OK payload is at least 7 bytes, which also tells it apart from a
	// 0x00 length-encoded column count.
	return p.Command() == OKPacket && p.PayloadLen() >= 7
}

// IsErr returns true if the packet is an error reply packet.
func (p Packet) IsErr() bool {
	return p.Command() == ErrPacket && p.PayloadLen() >= 3
}

// IsEOF returns true if the packet is an EOF reply packet. The EOF marker
// also starts length-encoded integers of 8 bytes, so the payload must be
// short for the packet to really be an EOF.
func (p Packet) IsEOF() bool {
	return p.Command() == EOFPacket && p.PayloadLen() < 9
}

// ErrorCode returns the server error code of an error packet, or 0 if the
// packet is not one.
func (p Packet) ErrorCode() uint16 {
	if !p.IsErr() {
		return 0
	}
	payload := p.Payload()
	return binary.LittleEndian.Uint16(payload[1:3])
}

// ExtractError renders the state and message of an error packet as
// "<state>: <message>". The payload layout is fixed: a one byte marker, a
// two byte error code, a one byte state marker and 5 bytes of state,
// followed by the message until the end of the packet. The state marker
// and the state itself are combined.
func (p Packet) ExtractError() string {
	if !p.IsErr() {
		return ""
	}
	payload := p.Payload()
	if len(payload) < 9 {
		return fmt.Sprintf("error code %d", p.ErrorCode())
	}
	state := string(payload[3:9])
	message := string(payload[9:])
	return state + ": " + message
}

// SQLError decodes an error packet into a SQLError, or nil if the packet
// is not one. The leading state marker is not part of the decoded state.
func (p Packet) SQLError() *SQLError {
	if !p.IsErr() {
		return nil
	}
	payload := p.Payload()
	if len(payload) < 9 {
		return NewSQLError(int(p.ErrorCode()), SSUnknownSQLState, "truncated error packet")
	}
	return &SQLError{
		Num:     int(p.ErrorCode()),
		State:   string(payload[4:9]),
		Message: string(payload[9:]),
	}
}

// readLenEncInt reads a length-encoded integer from the start of data and
// returns the value and the number of bytes consumed.
func readLenEncInt(data []byte) (uint64, int, bool) {
	if len(data) == 0 {
		return 0, 0, false
	}
	switch data[0] {
	case 0xfb, 0xff:
		// NULL marker and error marker are not valid integers.
		return 0, 0, false
	case 0xfc:
		if len(data) < 3 {
			return 0, 0, false
		}
		return uint64(data[1]) | uint64(data[2])<<8, 3, true
	case 0xfd:
		if len(data) < 4 {
			return 0, 0, false
		}
		return uint64(data[1]) | uint64(data[2])<<8 | uint64(data[3])<<16, 4, true
	case 0xfe:
		if len(data) < 9 {
			return 0, 0, false
		}
		return binary.LittleEndian.Uint64(data[1:9]), 9, true
	default:
		return uint64(data[0]), 1, true
	}
}

func newPacket(seq byte, payload []byte) Packet {
	p := make(Packet, HeaderLen+len(payload))
	p[0] = byte(len(payload))
	p[1] = byte(len(payload) >> 8)
	p[2] = byte(len(payload) >> 16)
	p[3] = seq
	copy(p[HeaderLen:], payload)
	return p
}

// NewComPacket builds a client command packet with the given payload tail.
func NewComPacket(cmd byte, data []byte) Packet {
	payload := make([]byte, 1+len(data))
	payload[0] = cmd
	copy(payload[1:], data)
	return newPacket(0, payload)
}

// NewQueryPacket builds a COM_QUERY request packet.
func NewQueryPacket(sql string) Packet {
	return NewComPacket(ComQuery, []byte(sql))
}

// NewOKPacket builds a minimal OK reply packet.
func NewOKPacket(seq byte) Packet {
	// marker, affected rows, last insert id, status flags, warnings
	return newPacket(seq, []byte{OKPacket, 0, 0, 0x02, 0x00, 0x00, 0x00})
}

// NewEOFPacket builds an EOF reply packet.
func NewEOFPacket(seq byte) Packet {
	return newPacket(seq, []byte{EOFPacket, 0x00, 0x00, 0x02, 0x00})
}

// NewErrPacket builds an error reply packet.
func NewErrPacket(seq byte, code uint16, sqlState string, message string) Packet {
	if len(sqlState) != 5 {
		sqlState = SSUnknownSQLState
	}
	payload := make([]byte, 0, 9+len(message))
	payload = append(payload, ErrPacket, byte(code), byte(code>>8), '#')
	payload = append(payload, sqlState...)
	payload = append(payload, message...)
	return newPacket(seq, payload)
}

// NewResultSetHeaderPacket builds the first packet of a result set,
// declaring the column count.
func NewResultSetHeaderPacket(columns uint64) Packet {
	return newPacket(1, appendLenEncInt(nil, columns))
}

// NewRowPacket builds a text protocol row packet with the given column
// values.
func NewRowPacket(seq byte, values ...string) Packet {
	var payload []byte
	for _, v := range values {
		payload = appendLenEncInt(payload, uint64(len(v)))
		payload = append(payload, v...)
	}
	return newPacket(seq, payload)
}

func appendLenEncInt(data []byte, n uint64) []byte {
	switch {
	case n < 0xfb:
		return append(data, byte(n))
	case n <= 0xffff:
		return append(data, 0xfc, byte(n), byte(n>>8))
	case n <= 0xffffff:
		return append(data, 0xfd, byte(n), byte(n>>8), byte(n>>16))
	default:
		data = append(data, 0xfe)
		var b [8]byte
		binary.LittleEndian.PutUint64(b[:], n)
		return append(data, b[:]...)
	}
}

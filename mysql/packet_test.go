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

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPacketHeader(t *testing.T) {
	p := NewQueryPacket("select 1")

	assert.Equal(t, len("select 1")+1, p.PayloadLen())
	assert.Equal(t, byte(0), p.Seq())
	assert.Equal(t, ComQuery, p.Command())
	assert.Equal(t, "select 1", string(p.Payload()[1:]))
}

func TestPacketClassification(t *testing.T) {
	assert.True(t, NewOKPacket(1).IsOK())
	assert.True(t, NewEOFPacket(1).IsEOF())
	assert.True(t, NewErrPacket(1, 1064, "42000", "syntax error").IsErr())

	// A result set header declaring 0xfe-encoded column counts is not an
	// EOF packet: the payload is too long.
	assert.False(t, NewResultSetHeaderPacket(1<<32).IsEOF())

	// A single-column result row is not an OK packet even if the value
	// starts with a zero byte.
	row := NewRowPacket(1, "")
	assert.False(t, row.IsOK())
}

func TestPacketErrorExtraction(t *testing.T) {
	p := NewErrPacket(1, ERConnectionKilled, "70100", "Connection was killed")

	assert.Equal(t, uint16(ERConnectionKilled), p.ErrorCode())
	assert.Equal(t, "#70100: Connection was killed", p.ExtractError())

	assert.Equal(t, uint16(0), NewOKPacket(1).ErrorCode())
	assert.Equal(t, "", NewOKPacket(1).ExtractError())
}

func TestPacketClone(t *testing.T) {
	p := NewQueryPacket("select 1")
	c := p.Clone()

	assert.Equal(t, p, c)
	c[HeaderLen] = ComPing
	assert.Equal(t, ComQuery, p.Command())

	assert.Nil(t, Packet(nil).Clone())
}

func TestLenEncInt(t *testing.T) {
	cases := []uint64{0, 1, 250, 251, 0xffff, 0x10000, 0xffffff, 0x1000000, 1 << 40}

	for _, n := range cases {
		data := appendLenEncInt(nil, n)
		v, consumed, ok := readLenEncInt(data)
		assert.True(t, ok)
		assert.Equal(t, len(data), consumed)
		assert.Equal(t, n, v)
	}

	_, _, ok := readLenEncInt([]byte{0xfb})
	assert.False(t, ok)
	_, _, ok = readLenEncInt([]byte{0xfc, 0x01})
	assert.False(t, ok)
	_, _, ok = readLenEncInt(nil)
	assert.False(t, ok)
}

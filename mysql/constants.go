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

// Packet header.
const (
	// HeaderLen is the size of the wire protocol packet header: a 3 byte
	// little-endian payload length followed by a one byte sequence id.
	HeaderLen = 4

	// MaxPacketSize is the maximum payload length of a single packet. A
	// payload of exactly this size signals a continuation packet.
	MaxPacketSize = (1 << 24) - 1
)

// Client commands. The command byte is the first byte of the payload of a
// client request packet.
const (
	ComSleep byte = iota
	ComQuit
	ComInitDB
	ComQuery
	ComFieldList
	ComCreateDB
	ComDropDB
	ComRefresh
	ComShutdown
	ComStatistics
	ComProcessInfo
	ComConnect
	ComProcessKill
	ComDebug
	ComPing
	ComTime
	ComDelayedInsert
	ComChangeUser
	ComBinlogDump
	ComTableDump
	ComConnectOut
	ComRegisterReplica
	ComStmtPrepare
	ComStmtExecute
	ComStmtSendLongData
	ComStmtClose
	ComStmtReset
	ComSetOption
	ComStmtFetch
	ComDaemon
	ComBinlogDumpGTID
	ComResetConnection
)

// Server response packet markers. The marker is the first byte of the
// payload of a server reply packet.
const (
	// OKPacket is the header of the OK packet.
	OKPacket = 0x00

	// LocalInfilePacket is the header of the local infile request packet.
	LocalInfilePacket = 0xfb

	// EOFPacket is the header of the EOF packet. Unambiguous only when the
	// payload is shorter than 9 bytes.
	EOFPacket = 0xfe

	// ErrPacket is the header of the error packet.
	ErrPacket = 0xff
)

// Server error codes seen by this proxy.
const (
	// ERConnectionKilled is the server error reported when the connection
	// serving a query was killed. A backend reply carrying this code means
	// the backend connection is gone for good.
	ERConnectionKilled = 1927

	// ERUnknownError is used when no more precise server code applies.
	ERUnknownError = 1105
)

// Client error codes, in the 2000 range reserved for client-side errors.
const (
	CRUnknownError    = 2000
	CRConnectionError = 2002
	CRConnHostError   = 2003
	CRServerGone      = 2006
	CRServerLost      = 2013
	CRMalformedPacket = 2027
)

// SQL states.
const (
	// SSUnknownSQLState is the default SQL state.
	SSUnknownSQLState = "HY000"

	// SSHandshakeError is the SQL state during the handshake phase.
	SSHandshakeError = "08S01"
)

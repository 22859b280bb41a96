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

// Package proxy holds the session core of the proxy: the object that owns
// one client connection, its routing bookkeeping and its shared lifetime.
package proxy

import (
	"github.com/endink/go-smartproxy/mysql"
)

// Endpoint is one backend server connection usable for routing a query.
// RouteQuery is synchronous-returning; the reply arrives later through the
// ClientReply callback of the router that owns the endpoint.
type Endpoint interface {
	// Connect establishes the backend connection.
	Connect() bool

	// RouteQuery forwards a request packet to the backend, taking
	// ownership of the packet. It returns 0 on failure, a positive value
	// on success.
	RouteQuery(buf mysql.Packet) int32

	// Close tears the backend connection down.
	Close()

	// IsOpen returns true while the connection is usable.
	IsOpen() bool

	// Target returns the identity of the backend server.
	Target() string
}

// Downstream is the chain a session routes client requests into. A router
// session is the session's downstream; a plain backend connection can be
// one too.
type Downstream interface {
	Connect() bool
	Close()
	IsOpen() bool
	RouteQuery(buf mysql.Packet) int32
}

// Upstream receives a reply on its way back to the client. Filters store
// an Upstream together with a buffer in the session's response slot to
// short-circuit routing.
type Upstream interface {
	ClientReply(buf mysql.Packet, route ReplyRoute, reply Reply) int32
}

// ReplyRoute records which endpoint a reply arrived over.
type ReplyRoute struct {
	Endpoint Endpoint
}

// Reply carries metadata about the reply stream.
type Reply struct {
	// Target is the backend that produced the reply.
	Target string
}

// KillType selects what a kill command terminates.
type KillType int

const (
	// KillQuery kills the statement currently executing, the connection
	// survives.
	KillQuery KillType = iota

	// KillConnection kills the whole backend connection.
	KillConnection
)

// ClientProtocol is the client-facing wire protocol connection owned by a
// session.
type ClientProtocol interface {
	// Write sends a reply packet to the client, taking ownership of it.
	// It returns 0 on failure, a positive value on success.
	Write(buf mysql.Packet) int32

	// Remote returns the client address.
	Remote() string

	// TriggerHangup queues a hangup on the client connection, as if the
	// peer had disconnected.
	TriggerHangup()

	// ExecuteKill issues an out-of-band kill for the given session id on
	// every backend the session occupies. It goes through the normal
	// connection machinery and does not cancel in-flight callbacks.
	ExecuteKill(id uint64, typ KillType)

	// Close closes the client connection.
	Close()

	// IsOpen returns true while the connection is usable.
	IsOpen() bool
}

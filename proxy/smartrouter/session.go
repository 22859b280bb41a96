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

package smartrouter

import (
	"time"

	"github.com/pingcap/errors"

	"github.com/endink/go-smartproxy/classifier"
	"github.com/endink/go-smartproxy/mysql"
	"github.com/endink/go-smartproxy/proxy"
)

// Mode is the routing mode of a router session.
type Mode int

const (
	// ModeIdle means no outstanding request or response packets on any
	// cluster.
	ModeIdle Mode = iota

	// ModeQuery means one or more clusters are awaiting a response.
	ModeQuery

	// ModeMeasureQuery is ModeQuery with response times recorded per
	// target, to learn the fastest one for this statement shape.
	ModeMeasureQuery

	// ModeCollectResults means the first response packet has arrived and
	// the remaining outstanding packets are being drained.
	ModeCollectResults
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "Idle"
	case ModeQuery:
		return "Query"
	case ModeMeasureQuery:
		return "MeasureQuery"
	case ModeCollectResults:
		return "CollectResults"
	default:
		return "Unknown"
	}
}

// cluster is one backend endpoint plus its per-request tracking state.
type cluster struct {
	endpoint proxy.Endpoint
	isMaster bool

	tracker            mysql.PacketTracker
	isReplyingToClient bool
}

// RouterSession routes one client session's queries across the clusters
// and arbitrates which single reply stream reaches the client. It is the
// session's downstream and receives every backend reply.
type RouterSession struct {
	router  *Router
	session *proxy.Session

	// clusters are ordered master first. Exactly one is flagged master.
	clusters []*cluster

	mode Mode

	// delayed holds the designated replier's final packet while other
	// clusters are still draining. Never overwritten while non-nil.
	delayed mysql.Packet

	measurement struct {
		start     time.Time
		canonical string
	}
}

// newRouterSession connects the candidate endpoints and orders the master
// cluster first. Failing to connect a master fails the whole construction
// and closes whatever did connect.
func newRouterSession(r *Router, endpoints []proxy.Endpoint) (*RouterSession, error) {
	var clusters []*cluster
	masterPos := -1

	for _, e := range endpoints {
		if !e.Connect() {
			continue
		}

		isMaster := e.Target() == r.cfg.Master
		if isMaster {
			masterPos = len(clusters)
		}
		clusters = append(clusters, &cluster{endpoint: e, isMaster: isMaster})
	}

	if masterPos == -1 {
		for _, c := range clusters {
			c.endpoint.Close()
		}
		logger.Errorf("No master found for %s, smartrouter session cannot be created.", r.cfg.Name)
		return nil, errors.Errorf("no master connected for router %q", r.cfg.Name)
	}

	// Put the master first. There must be exactly one master cluster.
	clusters[0], clusters[masterPos] = clusters[masterPos], clusters[0]

	return &RouterSession{router: r, clusters: clusters}, nil
}

// Connect reports whether the cluster set is usable. The endpoints were
// already connected at construction.
func (rs *RouterSession) Connect() bool {
	return len(rs.clusters) > 0
}

// Close closes every cluster endpoint.
func (rs *RouterSession) Close() {
	for _, c := range rs.clusters {
		if c.endpoint.IsOpen() {
			c.endpoint.Close()
		}
	}
}

// IsOpen returns true while the master cluster is connected.
func (rs *RouterSession) IsOpen() bool {
	return len(rs.clusters) > 0 && rs.clusters[0].endpoint.IsOpen()
}

// Mode returns the current routing mode.
func (rs *RouterSession) Mode() Mode {
	return rs.mode
}

// RouteQuery classifies one client request and writes it to the master,
// to a known-fastest target, or to every cluster. A continuation of a
// multi-packet request bypasses classification and is split across
// exactly the clusters still expecting request packets.
func (rs *RouterSession) RouteQuery(buf mysql.Packet) int32 {
	if rs.expectingRequestPackets() {
		ret := rs.writeSplitPackets(buf)
		if rs.allClustersAreIdle() {
			rs.mode = ModeIdle
		}
		return ret
	}

	if rs.mode != ModeIdle {
		logger.Errorf("RouteQuery() in wrong state %s, clusters busy = %v",
			rs.mode, !rs.allClustersAreIdle())
		return 0
	}

	routeInfo := classifier.UpdateRouteInfo(classifier.TargetUndefined, buf)
	canonical := routeInfo.Canonical()

	rs.measurement.start = time.Now()
	rs.measurement.canonical = canonical

	switch {
	case routeInfo.TargetIsAll():
		return rs.writeToAll(buf, ModeQuery)

	case routeInfo.TargetIsMaster() || rs.trxIsActive():
		return rs.writeToMaster(buf)

	default:
		if canonical != "" {
			if perf := rs.router.PerfFind(canonical); perf.IsValid() {
				return rs.writeToTarget(perf.Target(), buf)
			}
		}
		if routeInfo.IsSQL() {
			return rs.writeToAll(buf, ModeMeasureQuery)
		}

		nonSQLWarn.Warningf("Could not determine target (non-sql query), goes to master")
		return rs.writeToMaster(buf)
	}
}

// ClientReply handles one reply packet from one cluster, deciding whether
// it is forwarded to the client, held as the delayed final packet, or
// discarded.
func (rs *RouterSession) ClientReply(buf mysql.Packet, route proxy.ReplyRoute, reply proxy.Reply) int32 {
	c := rs.clusterOf(route.Endpoint)
	if c == nil {
		logger.Errorf("Reply from unknown endpoint %q, discarding", reply.Target)
		return 0
	}

	stateBefore := c.tracker.State()
	c.tracker.UpdateResponse(buf)

	// These flags can all be true at the same time.
	firstResponsePacket := rs.mode == ModeQuery || rs.mode == ModeMeasureQuery
	lastPacketForThisCluster := !c.tracker.ExpectingResponsePackets()
	veryLastResponsePacket := !rs.expectingResponsePackets() // last from all clusters

	// If a connection is lost down the pipeline, we first get an error
	// packet, then a call to HandleError(). If we only relied on
	// HandleError(), the client receiving the error packet could retry
	// using this session, causing a RouteQuery() in the wrong state.
	if c.tracker.State() == mysql.TrackerErrorPacket {
		switch buf.ErrorCode() {
		case mysql.ERConnectionKilled: // there might be more error codes needing to be caught here
			logger.Errorf("ClientReply(): Lost connection to %s: %v",
				c.endpoint.Target(), buf.SQLError())
			rs.session.Terminate(nil)
			return 0
		}
	}

	if c.tracker.State() == mysql.TrackerError {
		logger.Errorf("Packet tracker from state %s to state %s. Disconnect.",
			stateBefore, c.tracker.State())
		rs.session.Terminate(nil)
		return 0
	}

	willReply := false

	if firstResponsePacket {
		queryDur := time.Since(rs.measurement.start)
		c.isReplyingToClient = true
		willReply = true // tentatively, the packet might have to be delayed

		if rs.mode == ModeMeasureQuery {
			rs.router.recordMeasurement(c.endpoint.Target(), queryDur)
			if rs.measurement.canonical != "" {
				rs.router.PerfUpdate(rs.measurement.canonical, c.endpoint.Target(), queryDur)
			}
			// If the query is still going on an error packet is
			// received, else the whole query might play out and be
			// discarded.
			rs.killAllOthers()
		}

		rs.mode = ModeCollectResults
	}

	if veryLastResponsePacket {
		willReply = true
		rs.mode = ModeIdle
		if rs.delayed != nil {
			// Pick up the delayed packet, discarding this one.
			buf = rs.delayed
			rs.delayed = nil
		}
	} else if c.isReplyingToClient {
		if lastPacketForThisCluster {
			// Delay sending the last packet until all clusters have
			// responded. The code currently does not allow multiple
			// client queries at the same time.
			rs.delayed = buf
			willReply = false
		} else {
			willReply = true
		}
	} else {
		// A non-designated cluster's packet, dropped without side
		// effects.
		willReply = false
	}

	if !willReply {
		return 1
	}
	return rs.session.ClientReply(buf, route, reply)
}

// HandleError forwards a backend failure to the client and terminates the
// session. Always returns false: the endpoint must not be retried.
func (rs *RouterSession) HandleError(buf mysql.Packet, down proxy.Endpoint, reply proxy.Reply) bool {
	target := ""
	if down != nil {
		target = down.Target()
	}
	logger.Errorf("HandleError(): Lost connection to %s: %v", target, buf.SQLError())

	rs.session.Terminate(buf.Clone())
	return false
}

func (rs *RouterSession) trxIsActive() bool {
	return rs.session != nil && rs.session.TrxState().IsActive()
}

func (rs *RouterSession) clusterOf(endpoint proxy.Endpoint) *cluster {
	for _, c := range rs.clusters {
		if c.endpoint == endpoint {
			return c
		}
	}
	return nil
}

func (rs *RouterSession) expectingRequestPackets() bool {
	for _, c := range rs.clusters {
		if c.tracker.ExpectingRequestPackets() {
			return true
		}
	}
	return false
}

func (rs *RouterSession) expectingResponsePackets() bool {
	for _, c := range rs.clusters {
		if c.tracker.ExpectingResponsePackets() {
			return true
		}
	}
	return false
}

func (rs *RouterSession) allClustersAreIdle() bool {
	for _, c := range rs.clusters {
		if c.tracker.ExpectingMorePackets() {
			return false
		}
	}
	return true
}

func (rs *RouterSession) writeToMaster(buf mysql.Packet) int32 {
	c := rs.clusters[0]
	c.tracker = mysql.NewPacketTracker(buf)
	c.isReplyingToClient = false

	if c.tracker.ExpectingResponsePackets() {
		rs.mode = ModeQuery
	}

	return c.endpoint.RouteQuery(buf)
}

func (rs *RouterSession) writeToTarget(target string, buf mysql.Packet) int32 {
	for _, c := range rs.clusters {
		if c.endpoint.Target() != target {
			continue
		}

		c.tracker = mysql.NewPacketTracker(buf)
		c.isReplyingToClient = false

		if c.tracker.ExpectingResponsePackets() {
			rs.mode = ModeQuery
		}

		return c.endpoint.RouteQuery(buf)
	}

	// The learned target has gone away; drop the stale entry and fall
	// back to the master.
	logger.Warnf("Learned target %q is not among the clusters, routing to master", target)
	rs.router.PerfInvalidate(rs.measurement.canonical)
	return rs.writeToMaster(buf)
}

func (rs *RouterSession) writeToAll(buf mysql.Packet, mode Mode) int32 {
	var ret int32 = 1

	for _, c := range rs.clusters {
		c.tracker = mysql.NewPacketTracker(buf)
		c.isReplyingToClient = false

		if c.endpoint.RouteQuery(buf.Clone()) == 0 {
			ret = 0
		}
	}

	if rs.expectingResponsePackets() {
		rs.mode = mode
	}

	return ret
}

// writeSplitPackets continues a multi-packet request on exactly the
// clusters still expecting request packets.
func (rs *RouterSession) writeSplitPackets(buf mysql.Packet) int32 {
	var ret int32 = 1

	for _, c := range rs.clusters {
		if !c.tracker.ExpectingRequestPackets() {
			continue
		}

		c.tracker.UpdateRequest(buf)
		if c.endpoint.RouteQuery(buf.Clone()) == 0 {
			ret = 0
			break
		}
	}

	return ret
}

// killAllOthers kills the in-flight work the losing clusters still have
// for the current statement. The kill goes through the normal connection
// machinery; late replies from killed clusters are handled by the discard
// path.
func (rs *RouterSession) killAllOthers() {
	rs.session.ClientConnection().ExecuteKill(rs.session.ID(), proxy.KillQuery)
}

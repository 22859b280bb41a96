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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endink/go-smartproxy/classifier"
	"github.com/endink/go-smartproxy/mysql"
	"github.com/endink/go-smartproxy/proxy"
)

type fakeEndpoint struct {
	name       string
	connectVal bool
	connected  bool
	closed     bool
	routeVal   int32
	routed     []mysql.Packet
}

func newFakeEndpoint(name string) *fakeEndpoint {
	return &fakeEndpoint{name: name, connectVal: true, routeVal: 1}
}

func (e *fakeEndpoint) Connect() bool {
	e.connected = e.connectVal
	return e.connectVal
}

func (e *fakeEndpoint) RouteQuery(buf mysql.Packet) int32 {
	e.routed = append(e.routed, buf)
	return e.routeVal
}

func (e *fakeEndpoint) Close()         { e.closed = true }
func (e *fakeEndpoint) IsOpen() bool   { return e.connected && !e.closed }
func (e *fakeEndpoint) Target() string { return e.name }

type fakeClient struct {
	written []mysql.Packet
	closed  bool
	hangups int
	kills   int
}

func (c *fakeClient) Write(buf mysql.Packet) int32 {
	c.written = append(c.written, buf)
	return 1
}

func (c *fakeClient) Remote() string { return "127.0.0.1:50000" }
func (c *fakeClient) TriggerHangup() { c.hangups++ }

func (c *fakeClient) ExecuteKill(id uint64, typ proxy.KillType) {
	c.kills++
}

func (c *fakeClient) Close()       { c.closed = true }
func (c *fakeClient) IsOpen() bool { return !c.closed }

type harness struct {
	router    *Router
	rs        *RouterSession
	session   *proxy.Session
	client    *fakeClient
	endpoints []*fakeEndpoint
}

func newHarness(t *testing.T, targets ...string) *harness {
	t.Helper()

	router, err := NewRouter(Config{Name: "smart-service", Master: targets[0]})
	require.NoError(t, err)

	h := &harness{router: router, client: &fakeClient{}}

	var endpoints []proxy.Endpoint
	for _, name := range targets {
		e := newFakeEndpoint(name)
		h.endpoints = append(h.endpoints, e)
		endpoints = append(endpoints, e)
	}

	h.rs, err = newRouterSession(router, endpoints)
	require.NoError(t, err)

	h.session, err = proxy.NewSession(proxy.Config{Service: "smart-service"}, h.client, h.rs, nil, nil)
	require.NoError(t, err)
	h.rs.session = h.session
	require.True(t, h.session.Start())

	return h
}

// reply feeds one backend reply packet through the router session.
func (h *harness) reply(e *fakeEndpoint, buf mysql.Packet) {
	h.rs.ClientReply(buf, proxy.ReplyRoute{Endpoint: e}, proxy.Reply{Target: e.name})
}

// resultSet returns the full reply stream of a one column result set.
func resultSet(rows ...string) []mysql.Packet {
	packets := []mysql.Packet{
		mysql.NewResultSetHeaderPacket(1),
		mysql.NewRowPacket(2, "col"),
		mysql.NewEOFPacket(3),
	}
	seq := byte(4)
	for _, row := range rows {
		packets = append(packets, mysql.NewRowPacket(seq, row))
		seq++
	}
	return append(packets, mysql.NewEOFPacket(seq))
}

func TestConstructionRequiresMaster(t *testing.T) {
	router, err := NewRouter(Config{Name: "svc", Master: "server1"})
	require.NoError(t, err)

	down := newFakeEndpoint("server1")
	down.connectVal = false
	other := newFakeEndpoint("server2")

	_, err = newRouterSession(router, []proxy.Endpoint{down, other})
	assert.Error(t, err)

	// Whatever did connect is closed again; no partial session exists.
	assert.True(t, other.closed)
}

func TestConstructionOrdersMasterFirst(t *testing.T) {
	router, err := NewRouter(Config{Name: "svc", Master: "server2"})
	require.NoError(t, err)

	e1 := newFakeEndpoint("server1")
	e2 := newFakeEndpoint("server2")
	e3 := newFakeEndpoint("server3")

	rs, err := newRouterSession(router, []proxy.Endpoint{e1, e2, e3})
	require.NoError(t, err)

	assert.Equal(t, "server2", rs.clusters[0].endpoint.Target())
	assert.True(t, rs.clusters[0].isMaster)
	for _, c := range rs.clusters[1:] {
		assert.False(t, c.isMaster)
	}
}

func TestRouteSessionCommandGoesToAll(t *testing.T) {
	h := newHarness(t, "server1", "server2", "server3")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("set names utf8")))
	assert.Equal(t, ModeQuery, h.rs.Mode())

	for _, e := range h.endpoints {
		assert.Len(t, e.routed, 1)
	}
}

func TestRouteWriteGoesToMaster(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("insert into t values (1)")))
	assert.Equal(t, ModeQuery, h.rs.Mode())

	assert.Len(t, h.endpoints[0].routed, 1)
	assert.Empty(t, h.endpoints[1].routed)
}

func TestRouteUnrecognizedStatementGoesToMasterOnly(t *testing.T) {
	h := newHarness(t, "server1", "server2", "server3")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("call make_payment(42)")))
	assert.Equal(t, ModeQuery, h.rs.Mode())

	assert.Len(t, h.endpoints[0].routed, 1)
	assert.Empty(t, h.endpoints[1].routed)
	assert.Empty(t, h.endpoints[2].routed)
}

func TestRouteActiveTransactionLocksToMaster(t *testing.T) {
	h := newHarness(t, "server1", "server2")
	h.session.SetTrxState(proxy.TrxReadWrite)

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("select a from t")))

	assert.Len(t, h.endpoints[0].routed, 1)
	assert.Empty(t, h.endpoints[1].routed)
}

func TestRouteUnmeasuredSelectMeasuresAll(t *testing.T) {
	h := newHarness(t, "server1", "server2", "server3")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("select a from t where id = 1")))
	assert.Equal(t, ModeMeasureQuery, h.rs.Mode())

	for _, e := range h.endpoints {
		assert.Len(t, e.routed, 1)
	}
}

func TestRouteMeasuredSelectGoesToLearnedTarget(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	query := mysql.NewQueryPacket("select a from t where id = 7")
	canonical := classifier.UpdateRouteInfo(classifier.TargetUndefined, query).Canonical()
	require.NotEmpty(t, canonical)
	h.router.PerfUpdate(canonical, "server2", 1)

	require.Equal(t, int32(1), h.rs.RouteQuery(query))

	assert.Empty(t, h.endpoints[0].routed)
	assert.Len(t, h.endpoints[1].routed, 1)
}

func TestRouteLearnedTargetGoneFallsBackToMaster(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	query := mysql.NewQueryPacket("select a from t where id = 7")
	canonical := classifier.UpdateRouteInfo(classifier.TargetUndefined, query).Canonical()
	h.router.PerfUpdate(canonical, "server9", 1)

	require.Equal(t, int32(1), h.rs.RouteQuery(query))

	assert.Len(t, h.endpoints[0].routed, 1)
	assert.False(t, h.router.PerfFind(canonical).IsValid())
}

func TestRouteNonSQLCommandGoesToMaster(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewComPacket(mysql.ComPing, nil)))
	assert.Equal(t, ModeQuery, h.rs.Mode())

	assert.Len(t, h.endpoints[0].routed, 1)
	assert.Empty(t, h.endpoints[1].routed)
}

func TestFirstReplierWinsAndOthersAreDiscarded(t *testing.T) {
	h := newHarness(t, "server1", "server2", "server3")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("select a from t")))
	require.Equal(t, ModeMeasureQuery, h.rs.Mode())

	winner := h.endpoints[1]
	stream := resultSet("a", "b")

	// The winner's first packet designates it the replier, records the
	// measurement and kills the others' in-flight work.
	h.reply(winner, stream[0])
	assert.Equal(t, ModeCollectResults, h.rs.Mode())
	assert.Equal(t, 1, h.client.kills)

	for _, p := range stream[1 : len(stream)-1] {
		h.reply(winner, p)
	}
	// The winner's last packet is held until the killed clusters have
	// drained.
	h.reply(winner, stream[len(stream)-1])
	assert.Len(t, h.client.written, len(stream)-1)

	// The killed clusters answer with an interrupt error; both replies
	// are discarded and the held packet completes the stream.
	h.reply(h.endpoints[0], mysql.NewErrPacket(1, 1317, "70100", "Query execution was interrupted"))
	h.reply(h.endpoints[2], mysql.NewErrPacket(1, 1317, "70100", "Query execution was interrupted"))

	assert.Equal(t, ModeIdle, h.rs.Mode())
	require.Len(t, h.client.written, len(stream))
	for i, p := range stream {
		assert.Equal(t, p, h.client.written[i])
	}

	canonical := classifier.Canonical("select a from t")
	perf := h.router.PerfFind(canonical)
	require.True(t, perf.IsValid())
	assert.Equal(t, "server2", perf.Target())
}

func TestDelayedFinalPacketForwardedLast(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("set autocommit = 1")))
	require.Equal(t, ModeQuery, h.rs.Mode())

	first := mysql.NewOKPacket(1)
	second := mysql.NewOKPacket(1)

	// The first cluster to answer becomes the replier, but its final
	// packet is held until the other cluster has answered too.
	h.reply(h.endpoints[1], first)
	assert.Empty(t, h.client.written)
	assert.Equal(t, ModeCollectResults, h.rs.Mode())

	h.reply(h.endpoints[0], second)
	assert.Equal(t, ModeIdle, h.rs.Mode())

	// Exactly one packet reaches the client: the replier's held one.
	require.Len(t, h.client.written, 1)
	assert.Equal(t, first, h.client.written[0])
}

func TestConnectionKilledErrorTerminatesOnce(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("set autocommit = 1")))

	killed := mysql.NewErrPacket(1, mysql.ERConnectionKilled, "70100", "Connection was killed")
	h.reply(h.endpoints[0], killed)
	h.reply(h.endpoints[1], killed.Clone())

	assert.Equal(t, proxy.SessionStopping, h.session.State())
	assert.True(t, h.client.closed)
	assert.Empty(t, h.client.written)
}

func TestProtocolViolationTerminatesSession(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("select a from t")))

	// An EOF as the first packet of a streamed result is a violation.
	h.reply(h.endpoints[0], mysql.NewEOFPacket(1))

	assert.Equal(t, proxy.SessionStopping, h.session.State())
	assert.True(t, h.client.closed)
	assert.Empty(t, h.client.written)
}

func TestSplitRequestContinuationBypassesClassification(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	// A request whose first packet fills the maximum payload is
	// continued in follow-up packets.
	head := make(mysql.Packet, 0, mysql.HeaderLen+16)
	head = append(head, 0xff, 0xff, 0xff, 0)
	head = append(head, mysql.ComQuery)
	head = append(head, []byte("select a from t")...)

	require.Equal(t, int32(1), h.rs.RouteQuery(head))
	for _, e := range h.endpoints {
		require.Len(t, e.routed, 1)
	}

	tail := mysql.NewComPacket(0, []byte(" where id = 1"))
	require.Equal(t, int32(1), h.rs.RouteQuery(tail))

	for _, e := range h.endpoints {
		assert.Len(t, e.routed, 2)
	}
}

func TestRouteQueryInWrongStateFails(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	require.Equal(t, int32(1), h.rs.RouteQuery(mysql.NewQueryPacket("select a from t")))
	require.NotEqual(t, ModeIdle, h.rs.Mode())

	assert.Equal(t, int32(0), h.rs.RouteQuery(mysql.NewQueryPacket("select b from t")))
}

func TestHandleErrorTerminatesWithErrorForwarded(t *testing.T) {
	h := newHarness(t, "server1", "server2")

	errBuf := mysql.NewErrPacket(1, 2013, "HY000", "Lost connection to MySQL server during query")
	assert.False(t, h.rs.HandleError(errBuf, h.endpoints[0], proxy.Reply{Target: "server1"}))

	assert.Equal(t, proxy.SessionStopping, h.session.State())
	assert.True(t, h.client.closed)
	require.Len(t, h.client.written, 1)
	assert.True(t, h.client.written[0].IsErr())
}

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

// Package smartrouter routes the queries of one client session to the
// correct one (or all) of several backend clusters, learning per-statement
// response times to pick the fastest target for read queries.
package smartrouter

import (
	"context"
	"sync"
	"time"

	"github.com/pingcap/errors"
	"go.opentelemetry.io/otel/label"

	"github.com/endink/go-smartproxy/logging"
	"github.com/endink/go-smartproxy/proxy"
	"github.com/endink/go-smartproxy/telemetry"
	"github.com/endink/go-smartproxy/util/worker"
)

var logger = logging.GetLogger("smartrouter")

// nonSQLWarn throttles the per-query warning about unclassifiable
// commands, which would otherwise spam the log on busy sessions.
var nonSQLWarn = logging.NewThrottledLogger("smartrouter", logger, 5*time.Minute)

// DefaultPerfTTL is how long a learned measurement stays authoritative
// before the statement shape is measured again.
const DefaultPerfTTL = 30 * time.Minute

// Config is the router configuration.
type Config struct {
	// Name identifies the router instance in logs.
	Name string

	// Master is the target identity of the designated master backend.
	// Exactly one connected endpoint must carry it.
	Master string

	// PerfTTL bounds the age of learned measurements. Zero selects
	// DefaultPerfTTL.
	PerfTTL time.Duration
}

// Router holds the configuration and the learned performance table shared
// by all sessions of one service.
type Router struct {
	cfg Config

	// mu guards perf: sessions on different workers read and update the
	// table concurrently.
	mu   sync.RWMutex
	perf map[string]PerformanceInfo

	queryDuration telemetry.DurationValueRecorder
}

// NewRouter validates the configuration and creates the router.
func NewRouter(cfg Config) (*Router, error) {
	if cfg.Master == "" {
		return nil, errors.Errorf("router %q requires a master target", cfg.Name)
	}
	if cfg.PerfTTL <= 0 {
		cfg.PerfTTL = DefaultPerfTTL
	}

	meter := telemetry.GetMeter("smartrouter")

	return &Router{
		cfg:  cfg,
		perf: make(map[string]PerformanceInfo),
		queryDuration: meter.NewDurationValueRecorder(
			telemetry.BuildMetricName(cfg.Name, "QueryDuration"),
			"Measured first-reply latency per backend target"),
	}, nil
}

// Config returns the router configuration.
func (r *Router) Config() Config {
	return r.cfg
}

// NewSession connects the candidate endpoints and builds a client session
// routed through this router. Construction fails entirely when no
// endpoint connects as the master; no partial session is created.
func (r *Router) NewSession(cfg proxy.Config, client proxy.ClientProtocol,
	endpoints []proxy.Endpoint, wkr *worker.Worker, stats *proxy.ServiceStats) (*proxy.Session, error) {

	rs, err := newRouterSession(r, endpoints)
	if err != nil {
		return nil, err
	}

	session, err := proxy.NewSession(cfg, client, rs, wkr, stats)
	if err != nil {
		rs.Close()
		return nil, err
	}

	rs.session = session
	return session, nil
}

// PerfFind returns the learned fastest target for a canonical statement.
// Entries older than the configured TTL are dropped and reported invalid,
// forcing a fresh measurement.
func (r *Router) PerfFind(canonical string) PerformanceInfo {
	r.mu.RLock()
	p, ok := r.perf[canonical]
	r.mu.RUnlock()

	if !ok {
		return PerformanceInfo{}
	}
	if p.Age() > r.cfg.PerfTTL {
		r.PerfInvalidate(canonical)
		return PerformanceInfo{}
	}
	return p
}

// PerfUpdate records a measured response time. A fresh existing entry
// only yields if the new measurement is faster; a stale one is replaced
// unconditionally.
func (r *Router) PerfUpdate(canonical string, target string, duration time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.perf[canonical]; ok && p.Age() <= r.cfg.PerfTTL && p.duration <= duration {
		return
	}
	r.perf[canonical] = NewPerformanceInfo(target, duration)
}

func (r *Router) recordMeasurement(target string, duration time.Duration) {
	r.queryDuration.Record(context.Background(), duration, label.String("target", target))
}

// PerfInvalidate drops the learned entry for a canonical statement.
func (r *Router) PerfInvalidate(canonical string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.perf, canonical)
}

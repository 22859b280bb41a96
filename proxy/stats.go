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
	"github.com/endink/go-smartproxy/telemetry"
	"github.com/endink/go-smartproxy/util/sync2"
)

// ServiceStats are the service-wide connection counters shared by all
// sessions of one service. Updated atomically: sessions can be freed from
// other workers.
type ServiceStats struct {
	name string

	// NConnections counts sessions ever started.
	NConnections sync2.AtomicInt64

	// NCurrent counts sessions currently alive.
	NCurrent sync2.AtomicInt64
}

// NewServiceStats creates counters for a service and registers them with
// the telemetry meter.
func NewServiceStats(service string) *ServiceStats {
	s := &ServiceStats{name: service}

	meter := telemetry.GetMeter("proxy")
	meter.NewInt64SumObserver(
		telemetry.BuildMetricName(service, "ConnectionsTotal"),
		"Client sessions started", s.NConnections.Get)
	meter.NewInt64ValueObserver(
		telemetry.BuildMetricName(service, "ConnectionsCurrent"),
		"Client sessions currently alive", s.NCurrent.Get)

	return s
}

// Name returns the service name.
func (s *ServiceStats) Name() string {
	return s.name
}

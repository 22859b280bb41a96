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

package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// NamedMeter wraps an otel meter and deduplicates instrument creation by
// name.
type NamedMeter struct {
	meter         metric.Meter
	recorderMutex sync.Mutex
	recorders     map[string]interface{}
}

func (m *NamedMeter) getOrPutRecorder(name string, factory func() interface{}) interface{} {
	m.recorderMutex.Lock()
	defer m.recorderMutex.Unlock()
	r, ok := m.recorders[name]
	if !ok {
		r = factory()
		m.recorders[name] = r
	}
	return r
}

// NewInt64ValueObserver registers a gauge-style observer backed by callback.
func (m *NamedMeter) NewInt64ValueObserver(name, desc string, callback func() int64) {
	observerCallback := func(_ context.Context, result metric.Int64ObserverResult) {
		result.Observe(callback())
	}
	_ = metric.Must(m.meter).NewInt64ValueObserver(name, observerCallback, metric.WithDescription(desc))
}

// NewInt64SumObserver registers a monotonic sum observer backed by callback.
func (m *NamedMeter) NewInt64SumObserver(name, desc string, callback func() int64) {
	observerCallback := func(_ context.Context, result metric.Int64ObserverResult) {
		result.Observe(callback())
	}
	_ = metric.Must(m.meter).NewInt64SumObserver(name, observerCallback, metric.WithDescription(desc))
}

// NewInt64Counter returns the named counter, creating it on first use.
func (m *NamedMeter) NewInt64Counter(name, desc string) metric.Int64Counter {
	fac := func() interface{} {
		return metric.Must(m.meter).NewInt64Counter(name, metric.WithDescription(desc))
	}
	r := m.getOrPutRecorder(name, fac)
	return r.(metric.Int64Counter)
}

// NewDurationValueRecorder returns the named duration recorder, creating
// it on first use.
func (m *NamedMeter) NewDurationValueRecorder(name, desc string) DurationValueRecorder {
	fac := func() interface{} {
		return NewDurationValueRecorder(metric.Must(m.meter), name, metric.WithDescription(desc))
	}
	r := m.getOrPutRecorder(name, fac)
	return r.(DurationValueRecorder)
}

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
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
)

var meterMutex sync.Mutex
var meterMap = make(map[string]*NamedMeter)

// GetMeter returns the meter for an instrumentation name, creating it on
// first use.
func GetMeter(instrumentationName string) *NamedMeter {
	meterMutex.Lock()
	defer meterMutex.Unlock()
	if m, ok := meterMap[instrumentationName]; ok {
		return m
	}
	m := &NamedMeter{
		meter:     otel.Meter(instrumentationName),
		recorders: make(map[string]interface{}),
	}
	meterMap[instrumentationName] = m
	return m
}

// BuildMetricName joins name segments into a dotted snake_case metric name.
func BuildMetricName(segments ...string) string {
	parts := make([]string, 0, len(segments))
	for _, s := range segments {
		if s == "" {
			continue
		}
		parts = append(parts, snakeCase(s))
	}
	return strings.Join(parts, ".")
}

func snakeCase(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 4)
	for i, r := range s {
		if 'A' <= r && r <= 'Z' {
			if i > 0 {
				sb.WriteByte('_')
			}
			sb.WriteRune(r + ('a' - 'A'))
		} else {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

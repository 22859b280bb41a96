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

import "time"

// PerformanceInfo is the learned fastest target for one canonical
// statement. The zero value is invalid.
type PerformanceInfo struct {
	target   string
	duration time.Duration
	updated  time.Time
}

// NewPerformanceInfo records a measured response time for a target.
func NewPerformanceInfo(target string, duration time.Duration) PerformanceInfo {
	return PerformanceInfo{
		target:   target,
		duration: duration,
		updated:  time.Now(),
	}
}

// IsValid returns true when the entry holds a measured target.
func (p PerformanceInfo) IsValid() bool {
	return p.target != ""
}

// Target returns the backend that answered fastest.
func (p PerformanceInfo) Target() string {
	return p.target
}

// Duration returns the measured response time.
func (p PerformanceInfo) Duration() time.Duration {
	return p.duration
}

// Age returns how long ago the measurement was taken.
func (p PerformanceInfo) Age() time.Duration {
	return time.Since(p.updated)
}

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

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/endink/go-smartproxy/proxy"
)

const testYAML = `
service:
  name: orders
  retain_last_statements: 10
  dump_statements: on_error
  session_trace: 20
router:
  master: server1
  targets:
    - server1
    - server2
  perf_ttl: 10m
log:
  level: debug
  format: json
`

func TestSettingsFromString(t *testing.T) {
	s, err := NewSettingsFromString(testYAML)
	require.NoError(t, err)

	assert.Equal(t, "orders", s.Service.Name)
	assert.Equal(t, []string{"server1", "server2"}, s.Router.Targets)
	assert.Equal(t, "debug", s.Log.Level)

	cfg := s.SessionConfig()
	assert.Equal(t, "orders", cfg.Service)
	assert.Equal(t, 10, cfg.RetainLastStatements)
	assert.Equal(t, proxy.DumpOnError, cfg.DumpStatements)
	assert.Equal(t, 20, cfg.SessionTrace)

	rc := s.RouterConfig()
	assert.Equal(t, "server1", rc.Master)
	assert.Equal(t, 10*time.Minute, rc.PerfTTL)
}

func TestSettingsDefaults(t *testing.T) {
	s, err := NewSettingsFromString(`
router:
  master: server1
  targets: [server1]
`)
	require.NoError(t, err)

	assert.Equal(t, "smart-proxy", s.Service.Name)
	cfg := s.SessionConfig()
	assert.Equal(t, proxy.DumpNever, cfg.DumpStatements)
	assert.Zero(t, cfg.RetainLastStatements)

	// An empty perf_ttl selects the router default.
	assert.Equal(t, time.Duration(0), s.RouterConfig().PerfTTL)
}

func TestSettingsValidation(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"missing master", `
service: {name: svc}
router: {targets: [server1]}
`},
		{"master not in targets", `
router: {master: server9, targets: [server1]}
`},
		{"bad dump mode", `
service: {name: svc, dump_statements: sometimes}
router: {master: server1, targets: [server1]}
`},
		{"bad perf ttl", `
router: {master: server1, targets: [server1], perf_ttl: fast}
`},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			_, err := NewSettingsFromString(c.yaml)
			assert.Error(t, err)
		})
	}
}

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

// Package config loads the proxy settings from YAML. Settings are read
// once at startup and injected into sessions at construction, never
// consulted as ambient global state afterwards.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"go.uber.org/config"

	"github.com/endink/go-smartproxy/logging"
	"github.com/endink/go-smartproxy/proxy"
	"github.com/endink/go-smartproxy/proxy/smartrouter"
)

var logger = logging.GetLogger("config")

// Settings is the root of the proxy configuration.
type Settings struct {
	Service ServiceSettings `yaml:"service"`
	Router  RouterSettings  `yaml:"router"`
	Log     LogSettings     `yaml:"log"`
}

// ServiceSettings configures the client-facing service and its sessions.
type ServiceSettings struct {
	Name                 string `yaml:"name"`
	RetainLastStatements int    `yaml:"retain_last_statements"`
	DumpStatements       string `yaml:"dump_statements"`
	SessionTrace         int    `yaml:"session_trace"`
}

// RouterSettings configures the smart router. PerfTTL is a duration
// string such as "30m".
type RouterSettings struct {
	Master  string   `yaml:"master"`
	Targets []string `yaml:"targets"`
	PerfTTL string   `yaml:"perf_ttl"`
}

// LogSettings configures the proxy log output.
type LogSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// NewSettings loads the settings from the default file locations. Missing
// files are tolerated; the result then carries defaults only.
func NewSettings() (*Settings, error) {
	var sources []config.YAMLOption

	files := DefaultFileLocations()

	for _, f := range files {
		if fileExists(f) {
			sources = append(sources, config.File(f))
			logger.Infof("Configuration file found: %s", f)
		} else {
			logger.Debugf("Configuration file not found: %s", f)
		}
	}

	sources = append(sources, config.Permissive())
	yaml, err := config.NewYAML(sources...)
	if err != nil {
		return nil, errors.AddStack(err)
	}

	return NewSettingsFromYAML(yaml)
}

// NewSettingsFromString loads the settings from YAML content.
func NewSettingsFromString(content string) (*Settings, error) {
	yaml, err := config.NewYAML(config.Source(strings.NewReader(content)), config.Permissive())
	if err != nil {
		return nil, errors.AddStack(err)
	}
	return NewSettingsFromYAML(yaml)
}

// NewSettingsFromYAML populates and validates settings from a YAML
// provider.
func NewSettingsFromYAML(yaml *config.YAML) (*Settings, error) {
	s := &Settings{
		Service: ServiceSettings{
			Name:           "smart-proxy",
			DumpStatements: proxy.DumpNever.String(),
		},
	}

	if err := yaml.Get(config.Root).Populate(s); err != nil {
		return nil, errors.AddStack(err)
	}

	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Settings) validate() error {
	if s.Service.Name == "" {
		return errors.New("service name must not be empty")
	}
	if _, err := s.DumpMode(); err != nil {
		return err
	}
	if s.Router.Master == "" {
		return errors.New("router master target must not be empty")
	}
	if _, err := s.PerfTTL(); err != nil {
		return err
	}

	for _, t := range s.Router.Targets {
		if t == s.Router.Master {
			return nil
		}
	}
	return errors.Errorf("router master %q is not among the targets", s.Router.Master)
}

// DumpMode parses the configured statement dump mode.
func (s *Settings) DumpMode() (proxy.DumpMode, error) {
	switch strings.ToLower(s.Service.DumpStatements) {
	case "", proxy.DumpNever.String():
		return proxy.DumpNever, nil
	case proxy.DumpOnClose.String():
		return proxy.DumpOnClose, nil
	case proxy.DumpOnError.String():
		return proxy.DumpOnError, nil
	default:
		return proxy.DumpNever, errors.Errorf("unknown dump_statements mode %q", s.Service.DumpStatements)
	}
}

// PerfTTL parses the configured measurement lifetime. Empty selects the
// router default.
func (s *Settings) PerfTTL() (time.Duration, error) {
	if s.Router.PerfTTL == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s.Router.PerfTTL)
	if err != nil {
		return 0, errors.Errorf("invalid perf_ttl %q", s.Router.PerfTTL)
	}
	return d, nil
}

// SessionConfig builds the per-session configuration.
func (s *Settings) SessionConfig() proxy.Config {
	dump, _ := s.DumpMode()
	return proxy.Config{
		Service:              s.Service.Name,
		RetainLastStatements: s.Service.RetainLastStatements,
		DumpStatements:       dump,
		SessionTrace:         s.Service.SessionTrace,
	}
}

// RouterConfig builds the smart router configuration.
func (s *Settings) RouterConfig() smartrouter.Config {
	ttl, _ := s.PerfTTL()
	return smartrouter.Config{
		Name:    s.Service.Name,
		Master:  s.Router.Master,
		PerfTTL: ttl,
	}
}

// DefaultFileLocations lists the paths probed for a configuration file.
func DefaultFileLocations() []string {
	files := []string{
		"/etc/go-smartproxy/config.yaml",
		"/etc/go-smartproxy/config.yml",
	}
	if dir, err := os.Getwd(); err == nil {
		files = append(files, filepath.Join(dir, "config.yaml"))
	} else {
		files = append(files, "config.yaml")
	}
	return files
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

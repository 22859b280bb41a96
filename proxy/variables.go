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
	"fmt"
	"strings"

	"github.com/pingcap/errors"
)

// VariablePrefix is the reserved prefix of proxy user variables. Variable
// names are case-insensitive.
const VariablePrefix = "@smartproxy."

// VariableHandler is invoked when the client sets a registered variable.
// It returns an error message to be sent to the client as data, or ""
// when the new value was accepted.
type VariableHandler func(context interface{}, name string, value string) string

type sessionVariable struct {
	handler VariableHandler
	context interface{}
}

// AddVariable registers a session variable. The name must carry the
// reserved prefix and may be registered only once.
func (s *Session) AddVariable(name string, handler VariableHandler, context interface{}) error {
	if !strings.HasPrefix(strings.ToLower(name), VariablePrefix) {
		logger.Errorf("Session variable '%s' is not of the correct format.", name)
		return errors.Errorf("session variable %q does not start with %q", name, VariablePrefix)
	}

	key := strings.ToLower(name)
	if _, ok := s.variables[key]; ok {
		logger.Errorf("Session variable '%s' has been added already.", name)
		return errors.Errorf("session variable %q has been added already", name)
	}

	s.variables[key] = sessionVariable{handler: handler, context: context}
	return nil
}

// SetVariableValue dispatches a client-side assignment to the registered
// handler. The returned string is an error message produced as data; ""
// means success. Unknown variables are recovered locally: a descriptive
// message is returned and logged, nothing fails hard.
func (s *Session) SetVariableValue(name, value string) string {
	key := strings.ToLower(name)

	if v, ok := s.variables[key]; ok {
		return v.handler(v.context, key, value)
	}

	message := fmt.Sprintf("Attempt to set unknown proxy user variable %s", name)
	logger.Warn(message)
	return message
}

// RemoveVariable unregisters a session variable, returning the opaque
// context stored with it.
func (s *Session) RemoveVariable(name string) (interface{}, bool) {
	key := strings.ToLower(name)

	v, ok := s.variables[key]
	if !ok {
		return nil, false
	}
	delete(s.variables, key)
	return v.context, true
}

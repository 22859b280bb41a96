/*
Copyright 2019 The Vitess Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package mysql

import "fmt"

// SQLError is the error structure returned from calling a server.
// It has a few utility functions for extracting the error code and
// SQL state if present.
type SQLError struct {
	Num     int
	State   string
	Message string
}

// NewSQLError creates a new SQLError.
func NewSQLError(number int, sqlState string, format string, args ...interface{}) *SQLError {
	return &SQLError{
		Num:     number,
		State:   sqlState,
		Message: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (se *SQLError) Error() string {
	return fmt.Sprintf("%v (errno %v) (sqlstate %v)", se.Message, se.Num, se.State)
}

// Number returns the internal MySQL error code.
func (se *SQLError) Number() int {
	return se.Num
}

// SQLState returns the SQLSTATE value.
func (se *SQLError) SQLState() string {
	return se.State
}

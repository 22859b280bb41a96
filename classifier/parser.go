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

package classifier

import (
	"sync"

	tidb "github.com/pingcap/parser"
	"github.com/pingcap/parser/ast"
	_ "github.com/pingcap/tidb/types/parser_driver"
)

var parserPool = sync.Pool{}

// ParseSQL parses a single statement, reusing pooled parser instances.
func ParseSQL(sql string) (ast.StmtNode, error) {
	var parser *tidb.Parser
	i := parserPool.Get()
	if i != nil {
		parser = i.(*tidb.Parser)
	} else {
		parser = tidb.New()
	}

	defer func() {
		parserPool.Put(parser)
	}()
	return parser.ParseOneStmt(sql, "", "")
}

// Canonical returns the normalized form of a statement: literals stripped,
// identifiers lower-cased. It is stable across variations of the same
// statement shape and is used as the performance table key.
func Canonical(sql string) string {
	if normalized := tidb.Normalize(sql); normalized != "" {
		return normalized
	}
	// Unparsable statements fall back to the raw text so that they still
	// get a stable key.
	return sql
}

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

// Package classifier inspects client request packets and decides what kind
// of backend target a statement must be routed to. It is deliberately
// shallow: it previews the statement type textually and only falls back to
// a full parse when the routing decision depends on it.
package classifier

import (
	"github.com/pingcap/parser/ast"

	"github.com/endink/go-smartproxy/logging"
	"github.com/endink/go-smartproxy/mysql"
)

var logger = logging.GetLogger("classifier")

// TargetKind is the routing target category of one request.
type TargetKind int

const (
	// TargetUndefined means no routing hint is in effect.
	TargetUndefined TargetKind = iota

	// TargetAll routes to every backend: session state changing commands
	// that all backends must observe.
	TargetAll

	// TargetMaster routes to the master backend only.
	TargetMaster

	// TargetAny may be routed to any backend.
	TargetAny
)

// RouteInfo is the classification result for one request packet.
type RouteInfo struct {
	kind      TargetKind
	stmtType  StatementType
	canonical string
	sql       bool
}

// TargetIsAll returns true when the request must reach every backend.
func (r RouteInfo) TargetIsAll() bool {
	return r.kind == TargetAll
}

// TargetIsMaster returns true when the request must be answered by the
// master backend.
func (r RouteInfo) TargetIsMaster() bool {
	return r.kind == TargetMaster
}

// Target returns the target category.
func (r RouteInfo) Target() TargetKind {
	return r.kind
}

// IsSQL returns true when the request carries a SQL statement, as opposed
// to a bare protocol command.
func (r RouteInfo) IsSQL() bool {
	return r.sql
}

// StatementType returns the previewed statement type.
func (r RouteInfo) StatementType() StatementType {
	return r.stmtType
}

// Canonical returns the normalized statement usable as a cache key. Empty
// for non-SQL requests.
func (r RouteInfo) Canonical() string {
	return r.canonical
}

// UpdateRouteInfo classifies the request in p. The currentTarget hint is
// honored when a previous decision pinned the session, otherwise pass
// TargetUndefined.
func UpdateRouteInfo(currentTarget TargetKind, p mysql.Packet) RouteInfo {
	if currentTarget != TargetUndefined {
		return RouteInfo{kind: currentTarget}
	}

	switch p.Command() {
	case mysql.ComQuery:
		return classifyQuery(string(p.Payload()[1:]))
	case mysql.ComStmtExecute:
		// The statement shape was fixed at prepare time on every backend,
		// so execution must go where the prepare went.
		return RouteInfo{kind: TargetAll, sql: true}
	case mysql.ComInitDB, mysql.ComChangeUser, mysql.ComSetOption,
		mysql.ComResetConnection:
		// Connection state changes must be observed by all backends.
		return RouteInfo{kind: TargetAll}
	case mysql.ComFieldList, mysql.ComStatistics:
		return RouteInfo{kind: TargetMaster}
	default:
		return RouteInfo{kind: TargetUndefined}
	}
}

func classifyQuery(sql string) RouteInfo {
	stmtType := Preview(sql)
	info := RouteInfo{
		stmtType:  stmtType,
		canonical: Canonical(sql),
		sql:       true,
	}

	switch stmtType {
	case StmtSet, StmtUse:
		info.kind = TargetAll
	case StmtBegin, StmtCommit, StmtRollback,
		StmtInsert, StmtReplace, StmtUpdate, StmtDelete, StmtDDL:
		info.kind = TargetMaster
	case StmtSelect:
		if selectTakesLocks(sql) {
			info.kind = TargetMaster
		} else {
			info.kind = TargetAny
		}
	case StmtShow, StmtOther:
		info.kind = TargetAny
	default:
		// Statements the previewer does not recognize (CALL, GRANT,
		// LOAD DATA, version-specific comments) may write, so they are
		// never broadcast for measurement.
		info.kind = TargetMaster
	}

	return info
}

// selectTakesLocks parses the statement and reports whether it acquires
// row locks (FOR UPDATE, LOCK IN SHARE MODE). Locking reads must see the
// master.
func selectTakesLocks(sql string) bool {
	stmt, err := ParseSQL(sql)
	if err != nil {
		logger.Debugf("unparsable select, routing to any: %v", err)
		return false
	}
	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		return false
	}
	return sel.LockTp != ast.SelectLockNone
}

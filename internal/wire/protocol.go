// Package wire implements the binary request/response protocol spoken
// between clients and the server. All integers are big-endian.
package wire

import (
	"fmt"

	"github.com/Dicklesworthstone/tabled/internal/value"
)

// Command identifies a request. The numeric identities are fixed by the
// protocol.
type Command int32

const (
	CmdInsert Command = 1
	CmdUpdate Command = 2
	CmdDrop   Command = 3
	CmdGet    Command = 4
	CmdScan   Command = 5
	// CmdExit terminates a session; it is consumed by the connection
	// handler and never reaches the engine.
	CmdExit Command = 6
)

// Valid returns true if c is a declared command.
func (c Command) Valid() bool {
	return c >= CmdInsert && c <= CmdExit
}

// String returns the shell spelling of the command.
func (c Command) String() string {
	switch c {
	case CmdInsert:
		return "insert"
	case CmdUpdate:
		return "update"
	case CmdDrop:
		return "drop"
	case CmdGet:
		return "get"
	case CmdScan:
		return "scan"
	case CmdExit:
		return "exit"
	default:
		return fmt.Sprintf("command(%d)", int32(c))
	}
}

// Code is a response status. OK carries a command-specific payload;
// every other code is an error with an empty payload.
type Code int32

const (
	OK            Code = 1
	NotFound      Code = 2
	BadTable      Code = 3
	BadQuery      Code = 4
	TxnAbort      Code = 5
	BadValue      Code = 6
	BadRow        Code = 7
	BadRequest    Code = 8
	BadForeign    Code = 9
	ServerBusy    Code = 10
	Unimplemented Code = 11
)

// String returns the protocol name of the code.
func (c Code) String() string {
	switch c {
	case OK:
		return "OK"
	case NotFound:
		return "NOT_FOUND"
	case BadTable:
		return "BAD_TABLE"
	case BadQuery:
		return "BAD_QUERY"
	case TxnAbort:
		return "TXN_ABORT"
	case BadValue:
		return "BAD_VALUE"
	case BadRow:
		return "BAD_ROW"
	case BadRequest:
		return "BAD_REQUEST"
	case BadForeign:
		return "BAD_FOREIGN"
	case ServerBusy:
		return "SERVER_BUSY"
	case Unimplemented:
		return "UNIMPLEMENTED"
	default:
		return fmt.Sprintf("code(%d)", int32(c))
	}
}

// Operator selects the predicate of a scan request.
type Operator int32

const (
	OpAll Operator = 1
	OpEQ  Operator = 2
	OpNE  Operator = 3
	OpLT  Operator = 4
	OpGT  Operator = 5
	OpLE  Operator = 6
	OpGE  Operator = 7
)

// Valid returns true if op is a declared operator.
func (op Operator) Valid() bool {
	return op >= OpAll && op <= OpGE
}

// String returns the shell spelling of the operator.
func (op Operator) String() string {
	switch op {
	case OpAll:
		return "al"
	case OpEQ:
		return "eq"
	case OpNE:
		return "ne"
	case OpLT:
		return "lt"
	case OpGT:
		return "gt"
	case OpLE:
		return "le"
	case OpGE:
		return "ge"
	default:
		return fmt.Sprintf("operator(%d)", int32(op))
	}
}

// Request is one decoded client request. TableID addresses the target
// table (1-based). The remaining fields are populated per command:
// Values for insert and update, RowID for update, drop and get, Version
// for update, ColumnID/Operator/Comparand for scan.
type Request struct {
	Command   Command
	TableID   int32
	RowID     int64
	Version   int64
	Values    []value.Value
	ColumnID  int32
	Operator  Operator
	Comparand value.Value
}

// Response is one server response. Code selects which payload fields
// are meaningful: RowID and Version for insert, Version for update,
// Version and Values for get, RowIDs for scan. The Connected greeting
// and drop acknowledgements are a bare OK.
type Response struct {
	Code    Code
	RowID   int64
	Version int64
	Values  []value.Value
	RowIDs  []int64
	// payload tags the OK payload layout; see the payload* constants.
	payload payloadKind
}

type payloadKind int32

const (
	payloadEmpty payloadKind = iota
	payloadInsert
	payloadUpdate
	payloadGet
	payloadScan
)

// ErrorResponse returns an error response carrying code.
func ErrorResponse(code Code) Response {
	return Response{Code: code}
}

// Connected returns the greeting sent after a connection is admitted.
func Connected() Response {
	return Response{Code: OK}
}

// InsertResponse acknowledges an insert.
func InsertResponse(rowID, version int64) Response {
	return Response{Code: OK, RowID: rowID, Version: version, payload: payloadInsert}
}

// UpdateResponse acknowledges an update.
func UpdateResponse(version int64) Response {
	return Response{Code: OK, Version: version, payload: payloadUpdate}
}

// GetResponse carries a row snapshot.
func GetResponse(version int64, values []value.Value) Response {
	return Response{Code: OK, Version: version, Values: values, payload: payloadGet}
}

// DropResponse acknowledges a drop.
func DropResponse() Response {
	return Response{Code: OK}
}

// ScanResponse carries the matching row ids.
func ScanResponse(rowIDs []int64) Response {
	return Response{Code: OK, RowIDs: rowIDs, payload: payloadScan}
}

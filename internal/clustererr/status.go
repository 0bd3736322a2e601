// Package clustererr defines the error taxonomy shared by the cluster
// membership and replication core, mirroring the flat non-zero error-code
// space described for the peer RPC surface: zero means success, any other
// code is a specific, named failure.
package clustererr

import (
	"fmt"

	"github.com/infinidb/clusterd/internal/logger"
)

// Code is a member of the flat, non-zero error-code space shared with the
// wire protocol's error_code field.
type Code int64

const (
	CodeOK Code = 0

	CodeErrorInit Code = iota + 1000
	CodeInvalidNodeRole
	CodeDuplicateNode
	CodeNotExistNode
	CodeNodeInfoUpdated
	CodeInvalidNodeStatus
	CodeNotSupport
	CodeUnexpectedError
)

var codeNames = map[Code]string{
	CodeOK:                "OK",
	CodeErrorInit:         "ErrorInit",
	CodeInvalidNodeRole:   "InvalidNodeRole",
	CodeDuplicateNode:     "DuplicateNode",
	CodeNotExistNode:      "NotExistNode",
	CodeNodeInfoUpdated:   "NodeInfoUpdated",
	CodeInvalidNodeStatus: "InvalidNodeStatus",
	CodeNotSupport:        "NotSupport",
	CodeUnexpectedError:   "UnexpectedError",
}

func (c Code) String() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("Code(%d)", int64(c))
}

// Status is the error type returned by every cluster-core operation that can
// fail in a recoverable way. A nil *Status (or one with Code == CodeOK) means
// success, matching the C++ source's Status::OK() convention.
type Status struct {
	Code    Code
	Message string
}

func (s *Status) Error() string {
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", s.Code, s.Message)
}

// Ok reports whether the status represents success. A nil receiver is OK,
// so callers can write `if err := f(); err != nil` against the returned
// error interface while still constructing Status values directly.
func (s *Status) Ok() bool { return s == nil || s.Code == CodeOK }

func newStatus(code Code, format string, args ...any) *Status {
	return &Status{Code: code, Message: fmt.Sprintf(format, args...)}
}

func OK() *Status { return nil }

func ErrorInit(format string, args ...any) *Status {
	return newStatus(CodeErrorInit, format, args...)
}

func InvalidNodeRole(format string, args ...any) *Status {
	return newStatus(CodeInvalidNodeRole, format, args...)
}

func DuplicateNode(name string) *Status {
	return newStatus(CodeDuplicateNode, "node %q already registered", name)
}

func NotExistNode(name string) *Status {
	return newStatus(CodeNotExistNode, "node %q does not exist", name)
}

func NodeInfoUpdated(name string) *Status {
	return newStatus(CodeNodeInfoUpdated, "node %q address changed", name)
}

func InvalidNodeStatus(format string, args ...any) *Status {
	return newStatus(CodeInvalidNodeStatus, format, args...)
}

func NotSupport(format string, args ...any) *Status {
	return newStatus(CodeNotSupport, format, args...)
}

func UnexpectedError(format string, args ...any) *Status {
	return newStatus(CodeUnexpectedError, format, args...)
}

// FromWire reconstructs a Status from a wire error_code/error_message pair,
// where code == 0 denotes success.
func FromWire(code int64, message string) *Status {
	if code == 0 {
		return nil
	}
	return &Status{Code: Code(code), Message: message}
}

// FailFast is the Go analogue of the C++ source's UnrecoverableError: it
// marks a programming-error invariant violation that must not be silently
// tolerated and terminates the process.
func FailFast(reason string) {
	logger.Fatal(reason)
}

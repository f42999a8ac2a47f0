// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"errors"
	"fmt"
)

// Error codes carried in error responses. These are stable protocol
// constants: agents branch on them, so renaming one is a breaking
// change.
const (
	// CodeConnection marks transport-level failures. Surfaced to the
	// agent as session termination, and used to fail every pending
	// command when the host bridge dies mid-drain.
	CodeConnection = "connection"

	// CodeDecode marks malformed or unsupported messages. The session
	// stays open; only the offending command fails.
	CodeDecode = "decode"

	// CodeNotFound marks an unknown target path, feature, or preset
	// name. Target state is unchanged.
	CodeNotFound = "not_found"

	// CodeRange marks a mutation value outside the target's declared
	// range. The target keeps its prior value.
	CodeRange = "range"

	// CodeBusy marks a pipelining violation: a second command arrived
	// on a session before the first command's response was sent. The
	// rejected command never touches the host.
	CodeBusy = "busy"

	// CodeTimeout marks a command that waited longer than the
	// configured bound for the host to drain its queue. A mutation
	// already applied host-side is never rolled back.
	CodeTimeout = "timeout"
)

// CommandError is a structured per-command failure. Callers can use
// errors.As to extract the code:
//
//	var commandErr *protocol.CommandError
//	if errors.As(err, &commandErr) {
//	    if commandErr.Code == protocol.CodeRange { ... }
//	}
type CommandError struct {
	// Code is one of the Code* constants above.
	Code string `json:"code"`
	// Message is the human-readable description sent to the agent.
	Message string `json:"message"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("rigbridge: %s: %s", e.Code, e.Message)
}

// Errorf builds a CommandError with a formatted message.
func Errorf(code, format string, args ...any) *CommandError {
	return &CommandError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// IsCode reports whether err is a *CommandError with the given code.
func IsCode(err error, code string) bool {
	var commandErr *CommandError
	if errors.As(err, &commandErr) {
		return commandErr.Code == code
	}
	return false
}

// AsCommandError converts any error into a CommandError for the wire.
// A *CommandError passes through unchanged; anything else becomes a
// connection-class error, since unclassified failures mean the
// bridge, not the command, is in trouble.
func AsCommandError(err error) *CommandError {
	var commandErr *CommandError
	if errors.As(err, &commandErr) {
		return commandErr
	}
	return &CommandError{Code: CodeConnection, Message: err.Error()}
}

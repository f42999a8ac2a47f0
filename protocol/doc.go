// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the wire format spoken between an
// automation agent and the rigbridge server: newline-delimited JSON,
// one message per command or response, self-describing fields so the
// protocol can grow optional fields without breaking older agents.
//
// The package is organized around the message lifecycle:
//
//   - message.go: request/response structs and operation names
//   - codec.go: strict decoding, encoding, and line framing
//   - errors.go: the command error taxonomy carried on the wire
//
// Unknown fields are ignored on decode (forward compatibility).
// Missing required fields, unknown operation names, and parameter
// type mismatches are decode failures: the session stays open and
// the agent receives an error response with code "decode".
package protocol

// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxMessageLength bounds a single wire message. 1 MB is generous for
// command traffic; a batch of a few thousand mutations fits in a few
// hundred KB.
const maxMessageLength = 1 << 20

// initialBufferLength is the scanner's starting buffer. Most commands
// fit in one read.
const initialBufferLength = 64 * 1024

// DecodeRequest parses one wire message into a Request. Failures are
// CommandErrors with code "decode" so callers can turn them straight
// into error responses. The returned request is valid only when the
// error is nil, except that a best-effort correlation id is always
// populated when one could be extracted.
func DecodeRequest(data []byte) (Request, error) {
	var request Request
	if err := json.Unmarshal(data, &request); err != nil {
		// Try to salvage the correlation id so the agent can match
		// the error response to the command it sent.
		request.ID = salvageID(data)
		return request, Errorf(CodeDecode, "malformed message: %v", err)
	}
	if request.ID == "" {
		return request, Errorf(CodeDecode, "missing required field %q", "id")
	}
	if request.Op == "" {
		return request, Errorf(CodeDecode, "missing required field %q", "op")
	}
	if !KnownOperation(request.Op) {
		return request, Errorf(CodeDecode, "unknown operation %q", request.Op)
	}
	return request, nil
}

// salvageID extracts the "id" field from a message that failed full
// decoding, so error responses can still correlate. Returns "" when
// nothing usable is there.
func salvageID(data []byte) string {
	var partial struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &partial); err != nil {
		return ""
	}
	return partial.ID
}

// EncodeResponse serializes a response to its wire form, without the
// trailing newline (the MessageWriter owns framing).
func EncodeResponse(response Response) ([]byte, error) {
	data, err := json.Marshal(response)
	if err != nil {
		return nil, fmt.Errorf("encoding response %s: %w", response.ID, err)
	}
	return data, nil
}

// MessageReader reads newline-delimited messages from a byte stream.
// Blank lines are skipped. Lines longer than maxMessageLength fail
// the stream.
type MessageReader struct {
	scanner *bufio.Scanner
}

// NewMessageReader wraps r for message-at-a-time reading.
func NewMessageReader(r io.Reader) *MessageReader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialBufferLength), maxMessageLength)
	return &MessageReader{scanner: scanner}
}

// Next returns the next complete message, or io.EOF when the stream
// ends cleanly. The returned slice is a copy and stays valid across
// subsequent calls.
func (r *MessageReader) Next() ([]byte, error) {
	for r.scanner.Scan() {
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		message := make([]byte, len(line))
		copy(message, line)
		return message, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading message: %w", err)
	}
	return nil, io.EOF
}

// MessageWriter writes newline-delimited messages to a byte stream,
// flushing after every message so responses are never stuck in a
// buffer while the agent waits.
type MessageWriter struct {
	writer *bufio.Writer
}

// NewMessageWriter wraps w for message-at-a-time writing.
func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{writer: bufio.NewWriter(w)}
}

// WriteResponse encodes and frames one response.
func (w *MessageWriter) WriteResponse(response Response) error {
	data, err := EncodeResponse(response)
	if err != nil {
		return err
	}
	if _, err := w.writer.Write(data); err != nil {
		return fmt.Errorf("writing response: %w", err)
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("writing response terminator: %w", err)
	}
	if err := w.writer.Flush(); err != nil {
		return fmt.Errorf("flushing response: %w", err)
	}
	return nil
}

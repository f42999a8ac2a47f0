// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// rigbridge-call sends one command to a running rigbridge server and
// prints the response. Debugging and scripting tool:
//
//	rigbridge-call --op list_targets --param filter=jaw
//	rigbridge-call --op set_target --target bone/chin/location/y --param value=0.004
//	rigbridge-call --op apply_preset --target angular_face
//
// Parameters are name=value pairs; values that parse as JSON are sent
// typed (numbers, booleans, arrays), anything else as a string.
package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/rigforge/rigbridge/lib/version"
	"github.com/rigforge/rigbridge/protocol"
)

func main() {
	var (
		network     = pflag.String("network", "tcp", "server network (tcp or unix)")
		address     = pflag.String("address", "127.0.0.1:9876", "server address or socket path")
		op          = pflag.String("op", "", "operation name (required)")
		target      = pflag.String("target", "", "target path, feature, or preset name")
		params      = pflag.StringArray("param", nil, "operation parameter as name=value (repeatable)")
		id          = pflag.String("id", "", "correlation id (default: generated)")
		timeout     = pflag.Duration("timeout", 30*time.Second, "overall deadline for the call")
		showVersion = pflag.Bool("version", false, "print version and exit")
	)
	pflag.Parse()

	if *showVersion {
		fmt.Println(version.Full())
		return
	}
	if *op == "" {
		fmt.Fprintln(os.Stderr, "rigbridge-call: --op is required")
		pflag.Usage()
		os.Exit(2)
	}

	request, err := buildRequest(*op, *target, *id, *params)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rigbridge-call: %v\n", err)
		os.Exit(2)
	}

	response, err := call(*network, *address, *timeout, request)
	if err != nil {
		fmt.Fprintf(os.Stderr, "rigbridge-call: %v\n", err)
		os.Exit(1)
	}

	pretty, err := json.MarshalIndent(response, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "rigbridge-call: formatting response: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(pretty))

	if response.Status != protocol.StatusOK {
		os.Exit(1)
	}
}

func buildRequest(op, target, id string, params []string) (protocol.Request, error) {
	if id == "" {
		id = fmt.Sprintf("call-%d", time.Now().UnixNano())
	}
	request := protocol.Request{ID: id, Op: op, Target: target}
	if len(params) > 0 {
		request.Params = make(protocol.Params, len(params))
	}
	for _, parameter := range params {
		name, value, found := strings.Cut(parameter, "=")
		if !found || name == "" {
			return protocol.Request{}, fmt.Errorf("malformed --param %q, want name=value", parameter)
		}
		request.Params[name] = encodeValue(value)
	}
	return request, nil
}

// encodeValue sends values that parse as JSON typed, everything else
// as a string. "0.5" becomes a number, "jaw" a string, and an
// explicit quoted value passes through.
func encodeValue(value string) json.RawMessage {
	if json.Valid([]byte(value)) {
		return json.RawMessage(value)
	}
	quoted, _ := json.Marshal(value)
	return quoted
}

func call(network, address string, timeout time.Duration, request protocol.Request) (protocol.Response, error) {
	conn, err := net.DialTimeout(network, address, timeout)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("connecting to %s %s: %w", network, address, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Response{}, err
	}

	data, err := json.Marshal(request)
	if err != nil {
		return protocol.Response{}, fmt.Errorf("encoding request: %w", err)
	}
	if _, err := conn.Write(append(data, '\n')); err != nil {
		return protocol.Response{}, fmt.Errorf("sending request: %w", err)
	}

	reader := protocol.NewMessageReader(conn)
	message, err := reader.Next()
	if err != nil {
		return protocol.Response{}, fmt.Errorf("reading response: %w", err)
	}
	var response protocol.Response
	if err := json.Unmarshal(message, &response); err != nil {
		return protocol.Response{}, fmt.Errorf("decoding response: %w", err)
	}
	return response, nil
}

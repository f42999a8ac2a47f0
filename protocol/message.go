// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"encoding/json"
	"fmt"
)

// Operation names recognized on the wire.
const (
	// OpGetTarget reads one target's current value and range.
	OpGetTarget = "get_target"

	// OpSetTarget mutates one target. Out-of-range values fail with
	// "range" and leave the prior value; unknown paths fail with
	// "not_found".
	OpSetTarget = "set_target"

	// OpListTargets enumerates addressable targets with current
	// value/range. Optional "filter" param restricts by substring.
	OpListTargets = "list_targets"

	// OpBatchApply applies an ordered sequence of sub-mutations,
	// best-effort: the first failure stops the sequence, earlier
	// items stay applied, and the response reports per-item status.
	OpBatchApply = "batch_apply"

	// OpPing is a liveness check. Never touches the host.
	OpPing = "ping"

	// OpResetTarget writes a target's declared rest value.
	OpResetTarget = "reset_target"

	// OpResetAllTargets resets every mirrored target, best-effort.
	// Optional "filter" param restricts by substring.
	OpResetAllTargets = "reset_all_targets"

	// OpSetFeature mutates a semantic facial feature: the feature
	// name expands through the rig feature map into an ordered batch
	// of target mutations. Values clamp to the feature's [-1, 1]
	// input range; clamping is reported, not an error.
	OpSetFeature = "set_feature"

	// OpListFeatures enumerates semantic features.
	OpListFeatures = "list_features"

	// OpApplyPreset applies a named preset (a stored feature-value
	// combination) as a best-effort batch.
	OpApplyPreset = "apply_preset"

	// OpListPresets enumerates available presets.
	OpListPresets = "list_presets"
)

// knownOperations is the decode-time allowlist. A request naming an
// operation outside this set is a decode failure, not a dispatch
// failure: the agent is speaking a protocol revision we do not.
var knownOperations = map[string]bool{
	OpGetTarget:       true,
	OpSetTarget:       true,
	OpListTargets:     true,
	OpBatchApply:      true,
	OpPing:            true,
	OpResetTarget:     true,
	OpResetAllTargets: true,
	OpSetFeature:      true,
	OpListFeatures:    true,
	OpApplyPreset:     true,
	OpListPresets:     true,
}

// KnownOperation reports whether op is a recognized operation name.
func KnownOperation(op string) bool {
	return knownOperations[op]
}

// Request is one command from the agent. Immutable once decoded.
type Request struct {
	// ID is the correlation id echoed back on the response.
	ID string `json:"id"`

	// Op is the operation name.
	Op string `json:"op"`

	// Target is the target path for single-target operations, or the
	// feature/preset name for semantic operations.
	Target string `json:"target,omitempty"`

	// Params carries operation-specific parameters. Values stay raw
	// until a typed accessor pulls them out, so unexpected extra
	// parameters are ignored rather than rejected.
	Params Params `json:"params,omitempty"`
}

// Params holds operation parameters with decoding deferred per key.
type Params map[string]json.RawMessage

// Float extracts a required numeric parameter. Missing or
// wrongly-typed values are decode failures.
func (p Params) Float(key string) (float64, error) {
	raw, ok := p[key]
	if !ok {
		return 0, Errorf(CodeDecode, "missing required parameter %q", key)
	}
	var value float64
	if err := json.Unmarshal(raw, &value); err != nil {
		return 0, Errorf(CodeDecode, "parameter %q must be a number", key)
	}
	return value, nil
}

// String extracts an optional string parameter, returning defaultValue
// when absent. A present value of the wrong type is a decode failure.
func (p Params) String(key, defaultValue string) (string, error) {
	raw, ok := p[key]
	if !ok {
		return defaultValue, nil
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", Errorf(CodeDecode, "parameter %q must be a string", key)
	}
	return value, nil
}

// BatchItems extracts the required "items" parameter of a batch_apply
// request: a non-empty ordered array of {target, value} objects.
func (p Params) BatchItems() ([]BatchItem, error) {
	raw, ok := p["items"]
	if !ok {
		return nil, Errorf(CodeDecode, "missing required parameter %q", "items")
	}
	var items []BatchItem
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, Errorf(CodeDecode, "parameter %q must be an array of {target, value}", "items")
	}
	if len(items) == 0 {
		return nil, Errorf(CodeDecode, "parameter %q must not be empty", "items")
	}
	for i, item := range items {
		if item.Target == "" {
			return nil, Errorf(CodeDecode, "items[%d]: missing target", i)
		}
	}
	return items, nil
}

// BatchItem is one sub-mutation of a batch_apply request.
type BatchItem struct {
	Target string  `json:"target"`
	Value  float64 `json:"value"`
}

// UnmarshalJSON enforces that the value field is present and numeric.
// A bare json.Unmarshal would silently zero a missing value, turning
// a malformed request into a rig mutation.
func (b *BatchItem) UnmarshalJSON(data []byte) error {
	var wire struct {
		Target *string  `json:"target"`
		Value  *float64 `json:"value"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return fmt.Errorf("batch item: %w", err)
	}
	if wire.Target == nil || wire.Value == nil {
		return fmt.Errorf("batch item: target and value are required")
	}
	b.Target = *wire.Target
	b.Value = *wire.Value
	return nil
}

// Statuses carried in responses and batch item results.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Response is the result of one command.
type Response struct {
	// ID echoes the request correlation id. Empty when the request
	// was too malformed to extract one.
	ID string `json:"id"`

	// Status is "ok" or "error".
	Status string `json:"status"`

	// Result carries the operation result when Status is "ok".
	Result any `json:"result,omitempty"`

	// Error describes the failure when Status is "error".
	Error *CommandError `json:"error,omitempty"`
}

// OK builds a success response.
func OK(id string, result any) Response {
	return Response{ID: id, Status: StatusOK, Result: result}
}

// Failure builds an error response from any error, classifying
// non-CommandError failures as connection-class.
func Failure(id string, err error) Response {
	return Response{ID: id, Status: StatusError, Error: AsCommandError(err)}
}

// StatusSkipped marks batch items after the first failure: the
// sequence stopped before reaching them, so they were never attempted.
const StatusSkipped = "skipped"

// ItemStatus is the per-item outcome of a batch operation. Batches
// are best-effort without rollback, so the agent needs to see exactly
// which items applied: items before the first failure are "ok", the
// failing item carries its error, and later items are "skipped".
type ItemStatus struct {
	Index  int           `json:"index"`
	Target string        `json:"target"`
	Status string        `json:"status"`
	Error  *CommandError `json:"error,omitempty"`
}

// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package dispatch maps decoded commands onto the host bridge and
// scene tracker, and enforces the per-session ordering rules: one
// command at a time per session, batches applied best-effort in
// order with no rollback.
package dispatch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/rigforge/rigbridge/host"
	"github.com/rigforge/rigbridge/protocol"
	"github.com/rigforge/rigbridge/rig"
	"github.com/rigforge/rigbridge/scene"
)

// Dispatcher executes commands. One dispatcher serves every session;
// per-session serialization is the SessionGate's job.
type Dispatcher struct {
	bridge     *host.Bridge
	tracker    *scene.Tracker
	definition *rig.Definition
	logger     *slog.Logger
}

// New creates a Dispatcher.
func New(bridge *host.Bridge, tracker *scene.Tracker, definition *rig.Definition, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{bridge: bridge, tracker: tracker, definition: definition, logger: logger}
}

// Dispatch executes one command and produces its response. The
// request is already decoded and validated by the codec; parameter
// extraction failures here still surface as decode errors.
func (d *Dispatcher) Dispatch(ctx context.Context, request protocol.Request) protocol.Response {
	result, err := d.execute(ctx, request)
	if err != nil {
		return protocol.Failure(request.ID, err)
	}
	return protocol.OK(request.ID, result)
}

func (d *Dispatcher) execute(ctx context.Context, request protocol.Request) (any, error) {
	switch request.Op {
	case protocol.OpPing:
		return map[string]any{"pong": true}, nil
	case protocol.OpGetTarget:
		return d.getTarget(ctx, request)
	case protocol.OpSetTarget:
		return d.setTarget(ctx, request)
	case protocol.OpListTargets:
		return d.listTargets(ctx, request)
	case protocol.OpBatchApply:
		return d.batchApply(ctx, request)
	case protocol.OpResetTarget:
		return d.resetTarget(ctx, request)
	case protocol.OpResetAllTargets:
		return d.resetAllTargets(ctx, request)
	case protocol.OpSetFeature:
		return d.setFeature(ctx, request)
	case protocol.OpListFeatures:
		return map[string]any{"profile": d.definition.Profile(), "features": d.definition.Features()}, nil
	case protocol.OpApplyPreset:
		return d.applyPreset(ctx, request)
	case protocol.OpListPresets:
		return map[string]any{"presets": d.definition.Presets()}, nil
	}
	// Unreachable: the codec rejects unknown operations at decode.
	return nil, protocol.Errorf(protocol.CodeDecode, "unknown operation %q", request.Op)
}

// requireTarget extracts the required target field.
func requireTarget(request protocol.Request) (string, error) {
	if request.Target == "" {
		return "", protocol.Errorf(protocol.CodeDecode, "missing required field %q", "target")
	}
	return request.Target, nil
}

// getTarget serves reads from the tracker mirror when the path is
// known (mirror entries are fresh: the drain context write-through
// updates them on every mutation) and read-through to the host
// otherwise.
func (d *Dispatcher) getTarget(ctx context.Context, request protocol.Request) (any, error) {
	path, err := requireTarget(request)
	if err != nil {
		return nil, err
	}
	if target, ok := d.tracker.Lookup(path); ok {
		return target, nil
	}
	target, err := d.bridge.ReadTarget(ctx, path)
	if err != nil {
		return nil, d.suggestPath(err, path)
	}
	return target, nil
}

func (d *Dispatcher) setTarget(ctx context.Context, request protocol.Request) (any, error) {
	path, err := requireTarget(request)
	if err != nil {
		return nil, err
	}
	value, err := request.Params.Float("value")
	if err != nil {
		return nil, err
	}
	target, err := d.bridge.WriteTarget(ctx, path, value)
	if err != nil {
		return nil, d.suggestPath(err, path)
	}
	return target, nil
}

func (d *Dispatcher) listTargets(ctx context.Context, request protocol.Request) (any, error) {
	filter, err := request.Params.String("filter", "")
	if err != nil {
		return nil, err
	}
	if _, err := d.bridge.ListTargets(ctx); err != nil {
		return nil, err
	}
	targets := d.tracker.List(filter)
	return map[string]any{"count": len(targets), "targets": targets}, nil
}

func (d *Dispatcher) resetTarget(ctx context.Context, request protocol.Request) (any, error) {
	path, err := requireTarget(request)
	if err != nil {
		return nil, err
	}
	target, err := d.bridge.ResetTarget(ctx, path)
	if err != nil {
		return nil, d.suggestPath(err, path)
	}
	return target, nil
}

// batchApply runs an ordered best-effort mutation sequence: the
// first failure stops the sequence, earlier items stay applied
// (never rolled back), later items are reported skipped.
func (d *Dispatcher) batchApply(ctx context.Context, request protocol.Request) (any, error) {
	items, err := request.Params.BatchItems()
	if err != nil {
		return nil, err
	}
	edits := make([]write, len(items))
	for i, item := range items {
		edits[i] = write{path: item.Target, value: item.Value}
	}
	return d.applySequence(ctx, edits), nil
}

// resetAllTargets resets every mirrored target, best-effort. The
// mirror is refreshed from the host first so the expansion covers
// the full rig, not just previously-touched paths.
func (d *Dispatcher) resetAllTargets(ctx context.Context, request protocol.Request) (any, error) {
	filter, err := request.Params.String("filter", "")
	if err != nil {
		return nil, err
	}
	if _, err := d.bridge.ListTargets(ctx); err != nil {
		return nil, err
	}
	var edits []write
	for _, target := range d.tracker.List(filter) {
		edits = append(edits, write{path: target.Path, value: target.Rest})
	}
	return d.applySequence(ctx, edits), nil
}

// setFeature expands a semantic feature through the rig map and
// applies the resulting mutations best-effort. Out-of-range feature
// inputs clamp (reported, not an error); the raw target layer still
// range-checks every write.
func (d *Dispatcher) setFeature(ctx context.Context, request protocol.Request) (any, error) {
	name, err := requireTarget(request)
	if err != nil {
		return nil, err
	}
	value, err := request.Params.Float("value")
	if err != nil {
		return nil, err
	}
	edits, clamped, err := d.definition.ExpandFeature(name, value)
	if err != nil {
		return nil, err
	}
	writes, err := d.resolveEdits(ctx, edits)
	if err != nil {
		return nil, err
	}
	result := d.applySequence(ctx, writes)
	result["feature"] = rig.Normalize(name)
	result["clamped"] = clamped
	return result, nil
}

func (d *Dispatcher) applyPreset(ctx context.Context, request protocol.Request) (any, error) {
	name, err := requireTarget(request)
	if err != nil {
		return nil, err
	}
	edits, err := d.definition.ExpandPreset(name)
	if err != nil {
		return nil, err
	}
	writes, err := d.resolveEdits(ctx, edits)
	if err != nil {
		return nil, err
	}
	result := d.applySequence(ctx, writes)
	result["preset"] = rig.Normalize(name)
	return result, nil
}

// write is one resolved absolute-value mutation.
type write struct {
	path  string
	value float64
}

// resolveEdits converts rest-relative rig edits into absolute target
// writes, reading rest values through the mirror (host read-through
// for unseen paths).
func (d *Dispatcher) resolveEdits(ctx context.Context, edits []rig.Edit) ([]write, error) {
	writes := make([]write, 0, len(edits))
	for _, edit := range edits {
		target, ok := d.tracker.Lookup(edit.Path)
		if !ok {
			var err error
			target, err = d.bridge.ReadTarget(ctx, edit.Path)
			if err != nil {
				return nil, d.suggestPath(err, edit.Path)
			}
		}
		writes = append(writes, write{path: edit.Path, value: target.Rest + edit.Offset})
	}
	return writes, nil
}

// applySequence applies writes in order, best-effort, and builds the
// per-item status result shared by every batch-shaped operation.
func (d *Dispatcher) applySequence(ctx context.Context, writes []write) map[string]any {
	statuses := make([]protocol.ItemStatus, 0, len(writes))
	applied := 0
	failed := false
	for i, mutation := range writes {
		if failed {
			statuses = append(statuses, protocol.ItemStatus{
				Index: i, Target: mutation.path, Status: protocol.StatusSkipped,
			})
			continue
		}
		_, err := d.bridge.WriteTarget(ctx, mutation.path, mutation.value)
		if err != nil {
			failed = true
			d.logger.Debug("sequence item failed",
				"index", i, "target", mutation.path, "error", err)
			statuses = append(statuses, protocol.ItemStatus{
				Index: i, Target: mutation.path, Status: protocol.StatusError,
				Error: protocol.AsCommandError(d.suggestPath(err, mutation.path)),
			})
			continue
		}
		applied++
		statuses = append(statuses, protocol.ItemStatus{
			Index: i, Target: mutation.path, Status: protocol.StatusOK,
		})
	}
	return map[string]any{"applied": applied, "items": statuses}
}

// suggestPath enriches a not_found failure with a typo suggestion
// drawn from the mirrored paths. Other errors pass through.
func (d *Dispatcher) suggestPath(err error, path string) error {
	if !protocol.IsCode(err, protocol.CodeNotFound) {
		return err
	}
	suggestion := rig.Suggest(path, d.tracker.Paths())
	if suggestion == "" {
		return err
	}
	return protocol.Errorf(protocol.CodeNotFound,
		"target %q not found (did you mean %q?)", path, suggestion)
}

// SessionGate is the per-session Idle/Dispatching state machine. A
// command arriving while one is dispatching is rejected with busy,
// immediately and without touching the host.
type SessionGate struct {
	mu          sync.Mutex
	dispatching bool
}

// Begin transitions Idle → Dispatching. Returns false when the
// session is already dispatching.
func (g *SessionGate) Begin() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.dispatching {
		return false
	}
	g.dispatching = true
	return true
}

// End transitions Dispatching → Idle. Called after the response is
// sent.
func (g *SessionGate) End() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dispatching = false
}

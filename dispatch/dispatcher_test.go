// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/rigforge/rigbridge/host"
	"github.com/rigforge/rigbridge/protocol"
	"github.com/rigforge/rigbridge/rig"
	"github.com/rigforge/rigbridge/scene"
	"github.com/rigforge/rigbridge/simhost"
)

// newTestDispatcher wires a dispatcher over the default simulated
// face rig, with a background drainer standing in for the host tick.
func newTestDispatcher(t *testing.T) (*Dispatcher, *simhost.Host, *scene.Tracker) {
	t.Helper()
	simulated := simhost.NewDefaultFace()
	tracker := scene.NewTracker()
	bridge := host.New(simulated, tracker, host.Options{})
	t.Cleanup(bridge.Close)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			bridge.Drain()
			time.Sleep(time.Millisecond)
		}
	}()
	t.Cleanup(func() {
		close(stop)
		<-done
	})

	definition, err := rig.Load("", "", "generic")
	if err != nil {
		t.Fatalf("loading rig definition: %v", err)
	}
	return New(bridge, tracker, definition, nil), simulated, tracker
}

func makeRequest(t *testing.T, id, op, target string, params map[string]any) protocol.Request {
	t.Helper()
	request := protocol.Request{ID: id, Op: op, Target: target}
	if params != nil {
		request.Params = make(protocol.Params, len(params))
		for key, value := range params {
			encoded, err := json.Marshal(value)
			if err != nil {
				t.Fatalf("encoding param %q: %v", key, err)
			}
			request.Params[key] = encoded
		}
	}
	return request
}

func requireOK(t *testing.T, response protocol.Response) {
	t.Helper()
	if response.Status != protocol.StatusOK {
		t.Fatalf("response = %+v, want ok", response)
	}
}

func requireErrorCode(t *testing.T, response protocol.Response, code string) {
	t.Helper()
	if response.Status != protocol.StatusError || response.Error == nil {
		t.Fatalf("response = %+v, want error", response)
	}
	if response.Error.Code != code {
		t.Fatalf("error code = %q (%s), want %q", response.Error.Code, response.Error.Message, code)
	}
}

// resultTarget extracts a scene.Target result.
func resultTarget(t *testing.T, response protocol.Response) scene.Target {
	t.Helper()
	target, ok := response.Result.(scene.Target)
	if !ok {
		t.Fatalf("result type %T, want scene.Target", response.Result)
	}
	return target
}

func resultMap(t *testing.T, response protocol.Response) map[string]any {
	t.Helper()
	result, ok := response.Result.(map[string]any)
	if !ok {
		t.Fatalf("result type %T, want map", response.Result)
	}
	return result
}

func TestDispatchPing(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "r1", protocol.OpPing, "", nil))
	requireOK(t, response)
	if response.ID != "r1" {
		t.Fatalf("response id = %q", response.ID)
	}
}

func TestDispatchSetThenGetTarget(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)

	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "w1",
		protocol.OpSetTarget, "bone/chin/location/y", map[string]any{"value": 0.008}))
	requireOK(t, response)
	if written := resultTarget(t, response); written.Value != 0.008 {
		t.Fatalf("written value = %g", written.Value)
	}

	// Read-after-write on the same session.
	response = dispatcher.Dispatch(context.Background(), makeRequest(t, "g1",
		protocol.OpGetTarget, "bone/chin/location/y", nil))
	requireOK(t, response)
	if read := resultTarget(t, response); read.Value != 0.008 {
		t.Fatalf("read value = %g, want 0.008", read.Value)
	}
}

func TestDispatchGetTargetReadThrough(t *testing.T) {
	dispatcher, _, tracker := newTestDispatcher(t)
	if tracker.Len() != 0 {
		t.Fatal("tracker unexpectedly populated")
	}
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "g1",
		protocol.OpGetTarget, "shape/jaw_open", nil))
	requireOK(t, response)
	if _, ok := tracker.Lookup("shape/jaw_open"); !ok {
		t.Fatal("read-through did not populate the mirror")
	}
}

func TestDispatchMissingTargetField(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)
	for _, op := range []string{protocol.OpGetTarget, protocol.OpSetTarget,
		protocol.OpResetTarget, protocol.OpSetFeature, protocol.OpApplyPreset} {
		response := dispatcher.Dispatch(context.Background(), makeRequest(t, "r", op, "", map[string]any{"value": 0.5}))
		requireErrorCode(t, response, protocol.CodeDecode)
	}
}

func TestDispatchSetTargetOutOfRange(t *testing.T) {
	dispatcher, simulated, _ := newTestDispatcher(t)
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "w1",
		protocol.OpSetTarget, "bone/chin/location/y", map[string]any{"value": 99.0}))
	requireErrorCode(t, response, protocol.CodeRange)

	value, _ := simulated.Value("bone/chin/location/y")
	if value != 0 {
		t.Fatalf("rejected write mutated the host: %g", value)
	}
}

func TestDispatchUnknownTargetSuggestion(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)

	// Populate suggestion candidates.
	requireOK(t, dispatcher.Dispatch(context.Background(),
		makeRequest(t, "l1", protocol.OpListTargets, "", nil)))

	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "g1",
		protocol.OpGetTarget, "shape/jaw_opeb", nil))
	requireErrorCode(t, response, protocol.CodeNotFound)
	if !strings.Contains(response.Error.Message, "shape/jaw_open") {
		t.Fatalf("error lacks suggestion: %s", response.Error.Message)
	}
}

func TestDispatchListTargetsFilter(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "l1",
		protocol.OpListTargets, "", map[string]any{"filter": "shape/"}))
	requireOK(t, response)

	result := resultMap(t, response)
	targets, ok := result["targets"].([]scene.Target)
	if !ok {
		t.Fatalf("targets type %T", result["targets"])
	}
	if len(targets) != 1 || targets[0].Path != "shape/jaw_open" {
		t.Fatalf("filtered targets = %+v", targets)
	}
}

func itemStatuses(t *testing.T, response protocol.Response) []protocol.ItemStatus {
	t.Helper()
	result := resultMap(t, response)
	items, ok := result["items"].([]protocol.ItemStatus)
	if !ok {
		t.Fatalf("items type %T", result["items"])
	}
	return items
}

func TestDispatchBatchApply(t *testing.T) {
	dispatcher, simulated, _ := newTestDispatcher(t)
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "b1",
		protocol.OpBatchApply, "", map[string]any{"items": []map[string]any{
			{"target": "bone/jaw_l/location/x", "value": 0.01},
			{"target": "bone/jaw_r/location/x", "value": -0.01},
		}}))
	requireOK(t, response)

	items := itemStatuses(t, response)
	if len(items) != 2 {
		t.Fatalf("items = %+v", items)
	}
	for _, item := range items {
		if item.Status != protocol.StatusOK {
			t.Fatalf("item %d status = %q", item.Index, item.Status)
		}
	}
	if value, _ := simulated.Value("bone/jaw_r/location/x"); value != -0.01 {
		t.Fatalf("second item not applied: %g", value)
	}
}

func TestDispatchBatchApplyStopsAtFirstFailure(t *testing.T) {
	dispatcher, simulated, _ := newTestDispatcher(t)
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "b1",
		protocol.OpBatchApply, "", map[string]any{"items": []map[string]any{
			{"target": "bone/jaw_l/location/x", "value": 0.01},
			{"target": "bone/jaw_r/location/x", "value": 99.0},
			{"target": "bone/chin/location/y", "value": 0.01},
		}}))
	requireOK(t, response)

	items := itemStatuses(t, response)
	if items[0].Status != protocol.StatusOK {
		t.Fatalf("item 0 status = %q", items[0].Status)
	}
	if items[1].Status != protocol.StatusError || items[1].Error == nil || items[1].Error.Code != protocol.CodeRange {
		t.Fatalf("item 1 = %+v", items[1])
	}
	if items[2].Status != protocol.StatusSkipped {
		t.Fatalf("item 2 status = %q, want skipped", items[2].Status)
	}

	// First item stays applied: no rollback.
	if value, _ := simulated.Value("bone/jaw_l/location/x"); value != 0.01 {
		t.Fatalf("first item rolled back: %g", value)
	}
	// Third item never ran.
	if value, _ := simulated.Value("bone/chin/location/y"); value != 0 {
		t.Fatalf("skipped item applied: %g", value)
	}
}

func TestDispatchResetTarget(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)
	requireOK(t, dispatcher.Dispatch(context.Background(), makeRequest(t, "w1",
		protocol.OpSetTarget, "bone/cheek_l/scale/y", map[string]any{"value": 1.4})))

	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "r1",
		protocol.OpResetTarget, "bone/cheek_l/scale/y", nil))
	requireOK(t, response)
	if target := resultTarget(t, response); target.Value != 1 {
		t.Fatalf("value after reset = %g, want rest 1", target.Value)
	}
}

func TestDispatchResetAllTargets(t *testing.T) {
	dispatcher, simulated, _ := newTestDispatcher(t)
	requireOK(t, dispatcher.Dispatch(context.Background(), makeRequest(t, "w1",
		protocol.OpSetTarget, "bone/jaw_l/location/x", map[string]any{"value": 0.01})))
	requireOK(t, dispatcher.Dispatch(context.Background(), makeRequest(t, "w2",
		protocol.OpSetTarget, "shape/jaw_open", map[string]any{"value": 0.7})))

	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "r1",
		protocol.OpResetAllTargets, "", nil))
	requireOK(t, response)

	if value, _ := simulated.Value("bone/jaw_l/location/x"); value != 0 {
		t.Fatalf("bone not reset: %g", value)
	}
	if value, _ := simulated.Value("shape/jaw_open"); value != 0 {
		t.Fatalf("shape not reset: %g", value)
	}
}

func TestDispatchResetAllTargetsFilter(t *testing.T) {
	dispatcher, simulated, _ := newTestDispatcher(t)
	requireOK(t, dispatcher.Dispatch(context.Background(), makeRequest(t, "w1",
		protocol.OpSetTarget, "bone/jaw_l/location/x", map[string]any{"value": 0.01})))
	requireOK(t, dispatcher.Dispatch(context.Background(), makeRequest(t, "w2",
		protocol.OpSetTarget, "shape/jaw_open", map[string]any{"value": 0.7})))

	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "r1",
		protocol.OpResetAllTargets, "", map[string]any{"filter": "shape/"}))
	requireOK(t, response)

	if value, _ := simulated.Value("shape/jaw_open"); value != 0 {
		t.Fatalf("filtered target not reset: %g", value)
	}
	if value, _ := simulated.Value("bone/jaw_l/location/x"); value != 0.01 {
		t.Fatalf("out-of-filter target reset: %g", value)
	}
}

func TestDispatchSetFeature(t *testing.T) {
	dispatcher, simulated, _ := newTestDispatcher(t)
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "f1",
		protocol.OpSetFeature, "nose_width", map[string]any{"value": 0.5}))
	requireOK(t, response)

	result := resultMap(t, response)
	if result["clamped"] != false {
		t.Fatalf("clamped = %v", result["clamped"])
	}
	if result["feature"] != "nose_width" {
		t.Fatalf("feature = %v", result["feature"])
	}

	// Rest 0 + 0.5 * multiplier.
	if value, _ := simulated.Value("bone/nose_l/location/x"); value != 0.5*-0.006 {
		t.Fatalf("nose_l = %g", value)
	}
	if value, _ := simulated.Value("bone/nose_r/location/x"); value != 0.5*0.006 {
		t.Fatalf("nose_r = %g", value)
	}
}

func TestDispatchSetFeatureClampReported(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "f1",
		protocol.OpSetFeature, "nose_width", map[string]any{"value": 5.0}))
	requireOK(t, response)
	if resultMap(t, response)["clamped"] != true {
		t.Fatal("clamp not reported")
	}
}

func TestDispatchSetFeatureUnknown(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "f1",
		protocol.OpSetFeature, "nose_widht", map[string]any{"value": 0.5}))
	requireErrorCode(t, response, protocol.CodeNotFound)
	if !strings.Contains(response.Error.Message, "nose_width") {
		t.Fatalf("error lacks suggestion: %s", response.Error.Message)
	}
}

func TestDispatchApplyPreset(t *testing.T) {
	dispatcher, simulated, _ := newTestDispatcher(t)
	response := dispatcher.Dispatch(context.Background(), makeRequest(t, "p1",
		protocol.OpApplyPreset, "angular_face", nil))
	requireOK(t, response)

	result := resultMap(t, response)
	if result["preset"] != "angular_face" {
		t.Fatalf("preset = %v", result["preset"])
	}
	for _, item := range itemStatuses(t, response) {
		if item.Status != protocol.StatusOK {
			t.Fatalf("item %d (%s) status = %q", item.Index, item.Target, item.Status)
		}
	}

	// angular_face sets cheekbone_prominence 0.6 on both cheeks.
	if value, _ := simulated.Value("bone/cheek_l/location/y"); value != 0.6*0.006 {
		t.Fatalf("cheek_l = %g", value)
	}
}

func TestDispatchListFeaturesAndPresets(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)

	response := dispatcher.Dispatch(context.Background(),
		makeRequest(t, "lf", protocol.OpListFeatures, "", nil))
	requireOK(t, response)
	features := resultMap(t, response)
	if features["profile"] != "generic" {
		t.Fatalf("profile = %v", features["profile"])
	}

	response = dispatcher.Dispatch(context.Background(),
		makeRequest(t, "lp", protocol.OpListPresets, "", nil))
	requireOK(t, response)
	presets, ok := resultMap(t, response)["presets"].([]rig.PresetInfo)
	if !ok || len(presets) == 0 {
		t.Fatalf("presets = %+v", resultMap(t, response)["presets"])
	}
}

func TestSessionGate(t *testing.T) {
	gate := &SessionGate{}
	if !gate.Begin() {
		t.Fatal("idle gate rejected Begin")
	}
	if gate.Begin() {
		t.Fatal("dispatching gate accepted Begin")
	}
	gate.End()
	if !gate.Begin() {
		t.Fatal("gate stuck after End")
	}
}

// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package simhost is an in-memory host implementation: a rig of
// named targets with ranges and rest values, drained on a simulated
// per-frame tick. It backs standalone server mode and the end-to-end
// tests, standing in for a real content-creation application.
package simhost

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/tidwall/jsonc"

	"github.com/rigforge/rigbridge/host"
	"github.com/rigforge/rigbridge/lib/clock"
	"github.com/rigforge/rigbridge/scene"
)

// Host is an in-memory rig. It implements host.Interface; like a real
// host it is only touched from the drain context, but fault-injection
// setters may be called from test goroutines, so state is locked.
type Host struct {
	mu      sync.Mutex
	targets map[string]*scene.Target
	order   []string

	writeError error
	panicPath  string
	hold       chan struct{}
	writes     int
}

// New creates a Host over an explicit target set. Target order is
// preserved in Targets output.
func New(targets []scene.Target) (*Host, error) {
	simulated := &Host{targets: make(map[string]*scene.Target, len(targets))}
	for _, target := range targets {
		if target.Path == "" {
			return nil, fmt.Errorf("rig target with empty path")
		}
		if target.Min > target.Max {
			return nil, fmt.Errorf("target %q: min %g exceeds max %g", target.Path, target.Min, target.Max)
		}
		if !target.InRange(target.Rest) {
			return nil, fmt.Errorf("target %q: rest %g outside range [%g, %g]",
				target.Path, target.Rest, target.Min, target.Max)
		}
		if !target.InRange(target.Value) {
			return nil, fmt.Errorf("target %q: value %g outside range [%g, %g]",
				target.Path, target.Value, target.Min, target.Max)
		}
		if _, exists := simulated.targets[target.Path]; exists {
			return nil, fmt.Errorf("duplicate target path %q", target.Path)
		}
		stored := target
		simulated.targets[target.Path] = &stored
		simulated.order = append(simulated.order, target.Path)
	}
	if len(simulated.targets) == 0 {
		return nil, fmt.Errorf("rig defines no targets")
	}
	return simulated, nil
}

// rigDocument is the JSONC rig file layout.
type rigDocument struct {
	Targets []scene.Target `json:"targets"`
}

// LoadRigFile builds a Host from a JSONC rig definition. Comments and
// trailing commas are allowed; rig files are hand-maintained.
func LoadRigFile(path string) (*Host, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rig file: %w", err)
	}
	var document rigDocument
	if err := json.Unmarshal(jsonc.ToJSON(data), &document); err != nil {
		return nil, fmt.Errorf("parsing rig file %s: %w", path, err)
	}
	simulated, err := New(document.Targets)
	if err != nil {
		return nil, fmt.Errorf("rig file %s: %w", path, err)
	}
	return simulated, nil
}

// defaultBones are the face controls of the built-in rig, matching
// the generic alias profile.
var defaultBones = []string{
	"nose_l", "nose_r", "nose_tip", "nose_bridge",
	"jaw_l", "jaw_r", "chin",
	"eye_l", "eye_r",
	"brow_l", "brow_r",
	"lip_upper", "lip_lower", "lip_corner_l", "lip_corner_r",
	"cheek_l", "cheek_r",
	"forehead",
}

// NewDefaultFace builds the built-in face rig: location and scale
// channels for every default bone plus a jaw_open shape key. Location
// offsets are meters; scale is a unitless factor; shape weight is the
// conventional [0, 1] slider.
func NewDefaultFace() *Host {
	var targets []scene.Target
	for _, bone := range defaultBones {
		for _, axis := range []string{"x", "y", "z"} {
			targets = append(targets, scene.Target{
				Path: "bone/" + bone + "/location/" + axis,
				Min:  -0.05, Max: 0.05,
			})
		}
		for _, axis := range []string{"x", "y", "z"} {
			targets = append(targets, scene.Target{
				Path:  "bone/" + bone + "/scale/" + axis,
				Value: 1, Min: 0.2, Max: 3, Rest: 1,
			})
		}
	}
	targets = append(targets, scene.Target{
		Path: "shape/jaw_open",
		Min:  0, Max: 1,
	})
	simulated, err := New(targets)
	if err != nil {
		// The built-in rig is statically valid.
		panic(err)
	}
	return simulated
}

// Targets implements host.Interface.
func (h *Host) Targets() ([]scene.Target, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.writeError != nil {
		return nil, h.writeError
	}
	result := make([]scene.Target, 0, len(h.order))
	for _, path := range h.order {
		result = append(result, *h.targets[path])
	}
	return result, nil
}

// Read implements host.Interface.
func (h *Host) Read(path string) (scene.Target, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	target, ok := h.targets[path]
	if !ok {
		return scene.Target{}, fmt.Errorf("%w: %q", host.ErrUnknownTarget, path)
	}
	return *target, nil
}

// Write implements host.Interface. Honors injected faults: a forced
// error, a write hold, or a panic on a chosen path to simulate a
// host crash.
func (h *Host) Write(path string, value float64) error {
	h.mu.Lock()
	hold := h.hold
	h.mu.Unlock()
	if hold != nil {
		<-hold
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.panicPath != "" && h.panicPath == path {
		panic(fmt.Sprintf("simulated host crash writing %q", path))
	}
	if h.writeError != nil {
		return h.writeError
	}
	target, ok := h.targets[path]
	if !ok {
		return fmt.Errorf("%w: %q", host.ErrUnknownTarget, path)
	}
	target.Value = value
	h.writes++
	return nil
}

// FailWith makes every subsequent host call return err. Pass nil to
// clear.
func (h *Host) FailWith(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.writeError = err
}

// HoldWrites stalls every write until the returned release function
// is called. Tests use it to hold a command in flight; release is
// safe to call more than once.
func (h *Host) HoldWrites() (release func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	hold := make(chan struct{})
	h.hold = hold
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if h.hold == hold {
				h.hold = nil
			}
			h.mu.Unlock()
			close(hold)
		})
	}
}

// PanicOnWrite makes the next write to path panic, simulating a host
// crash mid-drain. Pass "" to clear.
func (h *Host) PanicOnWrite(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.panicPath = path
}

// WriteCount reports how many writes the host has applied.
func (h *Host) WriteCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

// Value reads a target's current value directly, bypassing the
// bridge. Test helper.
func (h *Host) Value(path string) (float64, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	target, ok := h.targets[path]
	if !ok {
		return 0, false
	}
	return target.Value, true
}

// Run drives the bridge the way a real host's per-tick callback
// would: one Drain per tick until ctx is cancelled.
func Run(ctx context.Context, clk clock.Clock, interval time.Duration, bridge *host.Bridge) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bridge.Drain()
		}
	}
}

// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

package simhost

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	hostpkg "github.com/rigforge/rigbridge/host"
	"github.com/rigforge/rigbridge/lib/clock"
	"github.com/rigforge/rigbridge/scene"
)

func TestNewDefaultFace(t *testing.T) {
	simulated := NewDefaultFace()
	targets, err := simulated.Targets()
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	// 18 bones x 6 channels + 1 shape key.
	if len(targets) != 18*6+1 {
		t.Fatalf("default face has %d targets", len(targets))
	}

	target, err := simulated.Read("bone/chin/scale/x")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if target.Value != 1 || target.Rest != 1 {
		t.Fatalf("scale channel = %+v, want value/rest 1", target)
	}

	if _, err := simulated.Read("bone/tail/location/x"); !errors.Is(err, hostpkg.ErrUnknownTarget) {
		t.Fatalf("unknown path error = %v", err)
	}
}

func TestWriteAndCount(t *testing.T) {
	simulated := NewDefaultFace()
	if err := simulated.Write("shape/jaw_open", 0.5); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if value, ok := simulated.Value("shape/jaw_open"); !ok || value != 0.5 {
		t.Fatalf("Value = %g, %v", value, ok)
	}
	if simulated.WriteCount() != 1 {
		t.Fatalf("WriteCount = %d", simulated.WriteCount())
	}
	if err := simulated.Write("bone/tail/location/x", 0); !errors.Is(err, hostpkg.ErrUnknownTarget) {
		t.Fatalf("unknown path write error = %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	cases := []struct {
		name    string
		targets []scene.Target
	}{
		{"empty", nil},
		{"empty path", []scene.Target{{Path: ""}}},
		{"inverted range", []scene.Target{{Path: "a", Min: 1, Max: -1}}},
		{"rest out of range", []scene.Target{{Path: "a", Min: 0, Max: 1, Rest: 2}}},
		{"value out of range", []scene.Target{{Path: "a", Min: 0, Max: 1, Value: 2}}},
		{"duplicate", []scene.Target{{Path: "a", Max: 1}, {Path: "a", Max: 1}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.targets); err == nil {
				t.Fatal("invalid rig accepted")
			}
		})
	}
}

func TestLoadRigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rig.jsonc")
	document := `{
	// A two-target test rig.
	"targets": [
		{"path": "bone/tail/location/z", "min": -0.1, "max": 0.1},
		{"path": "shape/smile", "min": 0, "max": 1, "rest": 0},  // trailing comma next
	],
}`
	if err := os.WriteFile(path, []byte(document), 0600); err != nil {
		t.Fatal(err)
	}

	simulated, err := LoadRigFile(path)
	if err != nil {
		t.Fatalf("LoadRigFile: %v", err)
	}
	targets, err := simulated.Targets()
	if err != nil {
		t.Fatalf("Targets: %v", err)
	}
	if len(targets) != 2 || targets[0].Path != "bone/tail/location/z" {
		t.Fatalf("targets = %+v", targets)
	}
}

func TestLoadRigFileRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rig.jsonc")
	if err := os.WriteFile(path, []byte(`{"targets": "nope"}`), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadRigFile(path); err == nil {
		t.Fatal("garbage rig file accepted")
	}
}

func TestFailWith(t *testing.T) {
	simulated := NewDefaultFace()
	boom := errors.New("scene is gone")
	simulated.FailWith(boom)
	if _, err := simulated.Targets(); !errors.Is(err, boom) {
		t.Fatalf("Targets error = %v", err)
	}
	if err := simulated.Write("shape/jaw_open", 0.5); !errors.Is(err, boom) {
		t.Fatalf("Write error = %v", err)
	}
	simulated.FailWith(nil)
	if err := simulated.Write("shape/jaw_open", 0.5); err != nil {
		t.Fatalf("Write after clear: %v", err)
	}
}

func TestRunDrainsOnTick(t *testing.T) {
	simulated := NewDefaultFace()
	tracker := scene.NewTracker()
	fakeClock := clock.Fake(time.Unix(1000, 0))
	bridge := hostpkg.New(simulated, tracker, hostpkg.Options{Clock: fakeClock})
	t.Cleanup(bridge.Close)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan struct{})
	go func() {
		Run(ctx, fakeClock, 50*time.Millisecond, bridge)
		close(runDone)
	}()

	// The ticker plus the command timeout register once the write is
	// submitted.
	errs := make(chan error, 1)
	go func() {
		_, err := bridge.WriteTarget(context.Background(), "shape/jaw_open", 0.5)
		errs <- err
	}()
	fakeClock.WaitForTimers(2)

	fakeClock.Advance(50 * time.Millisecond)
	if err := <-errs; err != nil {
		t.Fatalf("WriteTarget: %v", err)
	}
	if value, _ := simulated.Value("shape/jaw_open"); value != 0.5 {
		t.Fatalf("value after tick = %g", value)
	}

	cancel()
	select {
	case <-runDone:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop on context cancellation")
	}
}

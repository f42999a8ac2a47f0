// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package scene maintains the bridge-side mirror of the host's
// addressable rig targets, so read-only queries can be answered
// without a round-trip through the host's drain queue.
//
// The mirror is written only from the host bridge's drain context
// (write-through on every successful mutation, read-through on first
// query of an unseen path) and read from any session's dispatcher.
package scene

import (
	"sort"
	"strings"
	"sync"
)

// Target is one addressable, ranged parameter on the host's loaded
// character: a face rig control axis, a shape-key weight, a bone
// transform channel. The tracker's copy is a non-owning mirror; the
// host owns the real value.
type Target struct {
	// Path addresses the target (e.g. "shape/jaw_open" or
	// "bone/FACIAL_C_Jaw/rotation/x").
	Path string `cbor:"path" json:"path"`

	// Value is the last-known current value.
	Value float64 `cbor:"value" json:"value"`

	// Min and Max declare the valid value range, inclusive.
	Min float64 `cbor:"min" json:"min"`
	Max float64 `cbor:"max" json:"max"`

	// Rest is the target's rest-pose value, written by reset
	// operations.
	Rest float64 `cbor:"rest" json:"rest"`
}

// InRange reports whether value is within the target's declared range.
func (t Target) InRange(value float64) bool {
	return value >= t.Min && value <= t.Max
}

// Tracker is the path-keyed mirror. Single-writer (the drain
// context), many-reader (session dispatchers); an RWMutex serializes
// access.
type Tracker struct {
	mu      sync.RWMutex
	targets map[string]Target
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{targets: make(map[string]Target)}
}

// Lookup returns the mirrored target for path. The second result is
// false when the path has never been seen; callers then fall through
// to the host.
func (tr *Tracker) Lookup(path string) (Target, bool) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	target, ok := tr.targets[path]
	return target, ok
}

// Store records a target, overwriting any previous mirror entry.
// Called from the drain context after a successful mutation
// (write-through) or host read (read-through).
func (tr *Tracker) Store(target Target) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.targets[target.Path] = target
}

// StoreAll records a full enumeration, replacing the mirror. Entries
// not present in targets are dropped: they no longer exist on the
// host (asset change), so a stale mirror must not answer for them.
func (tr *Tracker) StoreAll(targets []Target) {
	replacement := make(map[string]Target, len(targets))
	for _, target := range targets {
		replacement[target.Path] = target
	}
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.targets = replacement
}

// List returns mirrored targets whose path contains filter (all of
// them when filter is empty), sorted by path for stable output.
func (tr *Tracker) List(filter string) []Target {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	result := make([]Target, 0, len(tr.targets))
	for _, target := range tr.targets {
		if filter != "" && !strings.Contains(target.Path, filter) {
			continue
		}
		result = append(result, target)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Path < result[j].Path })
	return result
}

// Paths returns every mirrored path, sorted. Used for suggestion
// candidates and reset-all expansion.
func (tr *Tracker) Paths() []string {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	paths := make([]string, 0, len(tr.targets))
	for path := range tr.targets {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of mirrored targets.
func (tr *Tracker) Len() int {
	tr.mu.RLock()
	defer tr.mu.RUnlock()
	return len(tr.targets)
}

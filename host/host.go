// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package host marshals rigbridge commands onto the host
// application's single-threaded execution context.
//
// A 3D-content-creation application's scene graph is only safe to
// touch from its own main loop. The Bridge therefore never calls the
// host directly on a session goroutine: operations queue in
// submission order and execute only inside Drain, which the host
// calls at its own checkpoint (once per tick). Two operations never
// run against the host concurrently.
package host

import (
	"errors"

	"github.com/rigforge/rigbridge/scene"
)

// ErrUnknownTarget is returned by Interface implementations when a
// path does not address a target on the loaded character.
var ErrUnknownTarget = errors.New("unknown target")

// Interface is the capability rigbridge consumes from the host
// application. Every method is invoked exclusively from the drain
// context; implementations may assume main-thread affinity and need
// no locking of their own.
//
// The host's side of the contract is a single obligation: call
// (*Bridge).Drain from its per-tick callback.
type Interface interface {
	// Targets enumerates every addressable target with current value
	// and range.
	Targets() ([]scene.Target, error)

	// Read returns one target's current state. Returns an error
	// wrapping ErrUnknownTarget for paths that do not exist.
	Read(path string) (scene.Target, error)

	// Write sets one target's value. The bridge validates range and
	// existence before calling; Write failing on an unknown path
	// (wrapping ErrUnknownTarget) still maps to a not-found failure
	// in case the target vanished between validation and write.
	Write(path string, value float64) error
}

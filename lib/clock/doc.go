// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts time for testability. Production code
// injects Real(); tests inject Fake() and advance time explicitly, so
// timeout and tick behavior is deterministic instead of sleep-based.
package clock

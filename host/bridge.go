// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/rigforge/rigbridge/lib/clock"
	"github.com/rigforge/rigbridge/protocol"
	"github.com/rigforge/rigbridge/scene"
)

type operationKind int

const (
	opRead operationKind = iota
	opWrite
	opReset
	opList
)

// operation is one queued unit of host work. The done channel is
// buffered so the drain context never blocks on a caller that gave up.
type operation struct {
	kind  operationKind
	path  string
	value float64

	// started is set under the bridge mutex when the drain context
	// picks the operation up. A started operation can no longer be
	// cancelled: it runs to completion and its result is delivered
	// (and possibly discarded by the caller).
	started bool

	done chan operationResult
}

type operationResult struct {
	target  scene.Target
	targets []scene.Target
	err     error
}

// Options configures a Bridge. Zero fields take defaults.
type Options struct {
	// Clock drives the per-command timeout. Defaults to the real
	// clock; tests inject a fake.
	Clock clock.Clock

	// CommandTimeout bounds how long a submission waits for the host
	// to drain. Default 15s.
	CommandTimeout time.Duration

	// QueueCapacity bounds pending operations. Default 64.
	QueueCapacity int

	// Logger receives structured log output. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Bridge is the single point of contact with the host's execution
// context. Operations submitted from any goroutine queue in FIFO
// order and execute only inside Drain.
type Bridge struct {
	host    Interface
	tracker *scene.Tracker
	clock   clock.Clock
	timeout time.Duration

	capacity int
	logger   *slog.Logger

	mu          sync.Mutex
	queue       []*operation
	closed      bool
	closeReason error
}

// New creates a Bridge over the given host capability, mirroring
// completed reads and writes into tracker.
func New(hostInterface Interface, tracker *scene.Tracker, options Options) *Bridge {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.CommandTimeout <= 0 {
		options.CommandTimeout = 15 * time.Second
	}
	if options.QueueCapacity <= 0 {
		options.QueueCapacity = 64
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	return &Bridge{
		host:     hostInterface,
		tracker:  tracker,
		clock:    options.Clock,
		timeout:  options.CommandTimeout,
		capacity: options.QueueCapacity,
		logger:   options.Logger,
	}
}

// ReadTarget reads one target on the host execution context and
// mirrors the result.
func (b *Bridge) ReadTarget(ctx context.Context, path string) (scene.Target, error) {
	result := b.submit(ctx, &operation{kind: opRead, path: path, done: make(chan operationResult, 1)})
	return result.target, result.err
}

// WriteTarget mutates one target. Range and existence are validated
// on the drain context; a failed validation leaves the prior value.
// On success the tracker mirrors the new value before WriteTarget
// returns, so a subsequent query in the same session observes it.
func (b *Bridge) WriteTarget(ctx context.Context, path string, value float64) (scene.Target, error) {
	result := b.submit(ctx, &operation{kind: opWrite, path: path, value: value, done: make(chan operationResult, 1)})
	return result.target, result.err
}

// ResetTarget writes a target's declared rest value.
func (b *Bridge) ResetTarget(ctx context.Context, path string) (scene.Target, error) {
	result := b.submit(ctx, &operation{kind: opReset, path: path, done: make(chan operationResult, 1)})
	return result.target, result.err
}

// ListTargets enumerates every addressable target from the host and
// replaces the tracker mirror with the result.
func (b *Bridge) ListTargets(ctx context.Context) ([]scene.Target, error) {
	result := b.submit(ctx, &operation{kind: opList, done: make(chan operationResult, 1)})
	return result.targets, result.err
}

// submit queues an operation and waits for its result, the command
// timeout, or caller cancellation, whichever comes first. A timeout
// or cancellation only wins for operations the drain context has not
// started; once started, the operation runs to completion and its
// real outcome is returned (timeouts never roll back an applied
// mutation).
func (b *Bridge) submit(ctx context.Context, op *operation) operationResult {
	b.mu.Lock()
	if b.closed {
		reason := b.closeReason
		b.mu.Unlock()
		return operationResult{err: reason}
	}
	if len(b.queue) >= b.capacity {
		b.mu.Unlock()
		return operationResult{err: protocol.Errorf(protocol.CodeConnection,
			"host queue full (%d operations pending)", b.capacity)}
	}
	b.queue = append(b.queue, op)
	b.mu.Unlock()

	select {
	case result := <-op.done:
		return result
	case <-b.clock.After(b.timeout):
		if b.tryRemove(op) {
			return operationResult{err: protocol.Errorf(protocol.CodeTimeout,
				"host did not drain within %v", b.timeout)}
		}
		// The drain context already owns the operation. Wait for the
		// late result so an applied mutation reports success.
		return <-op.done
	case <-ctx.Done():
		if b.tryRemove(op) {
			return operationResult{err: protocol.Errorf(protocol.CodeConnection,
				"session closed before dispatch")}
		}
		return <-op.done
	}
}

// tryRemove dequeues a not-yet-started operation. Returns false when
// the drain context got there first.
func (b *Bridge) tryRemove(op *operation) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if op.started {
		return false
	}
	for i, pending := range b.queue {
		if pending == op {
			b.queue = append(b.queue[:i], b.queue[i+1:]...)
			return true
		}
	}
	// Not started and not queued: the bridge closed and already
	// failed the operation; its result is on the done channel.
	return false
}

// Drain executes every pending operation in submission order. The
// host application must call this from its per-tick callback, on the
// execution context that owns the scene graph; it is the only place
// host capability methods are invoked.
//
// A panic escaping a host callback is fatal: the current operation
// and everything pending fail with a connection-class error, and the
// bridge refuses further work. Late-arriving sessions see the same
// failure instead of hanging.
func (b *Bridge) Drain() {
	for {
		op := b.nextOperation()
		if op == nil {
			return
		}
		result, fatal := b.execute(op)
		if fatal != nil {
			b.logger.Error("host crashed during drain", "error", fatal)
			failure := protocol.Errorf(protocol.CodeConnection, "host bridge down: %v", fatal)
			op.done <- operationResult{err: failure}
			b.closeWith(failure)
			return
		}
		op.done <- result
	}
}

// nextOperation pops the queue head and marks it started.
func (b *Bridge) nextOperation() *operation {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.queue) == 0 {
		return nil
	}
	op := b.queue[0]
	b.queue = b.queue[1:]
	op.started = true
	return op
}

// execute runs one operation against the host, containing panics.
// Runs on the drain context, so tracker updates here satisfy the
// single-writer discipline.
func (b *Bridge) execute(op *operation) (result operationResult, fatal error) {
	defer func() {
		if panicValue := recover(); panicValue != nil {
			fatal = protocol.Errorf(protocol.CodeConnection, "%v", panicValue)
		}
	}()

	switch op.kind {
	case opList:
		targets, err := b.host.Targets()
		if err != nil {
			return operationResult{err: protocol.AsCommandError(err)}, nil
		}
		b.tracker.StoreAll(targets)
		return operationResult{targets: targets}, nil

	case opRead:
		target, err := b.readThrough(op.path)
		if err != nil {
			return operationResult{err: err}, nil
		}
		return operationResult{target: target}, nil

	case opWrite:
		return b.executeWrite(op.path, op.value), nil

	case opReset:
		info, err := b.lookupOrRead(op.path)
		if err != nil {
			return operationResult{err: err}, nil
		}
		return b.executeWrite(op.path, info.Rest), nil
	}
	return operationResult{err: protocol.Errorf(protocol.CodeConnection, "unknown operation kind %d", op.kind)}, nil
}

// executeWrite validates and applies one mutation. On any failure the
// target keeps its prior value; on success the tracker mirrors the
// new value before the submitting command unblocks.
func (b *Bridge) executeWrite(path string, value float64) operationResult {
	info, err := b.lookupOrRead(path)
	if err != nil {
		return operationResult{err: err}
	}
	if !info.InRange(value) {
		return operationResult{err: protocol.Errorf(protocol.CodeRange,
			"value %g outside range [%g, %g] for %q", value, info.Min, info.Max, path)}
	}
	if err := b.host.Write(path, value); err != nil {
		if errors.Is(err, ErrUnknownTarget) {
			return operationResult{err: protocol.Errorf(protocol.CodeNotFound, "target %q not found", path)}
		}
		return operationResult{err: protocol.AsCommandError(err)}
	}
	info.Value = value
	b.tracker.Store(info)
	return operationResult{target: info}
}

// lookupOrRead resolves a target's declared range and rest value:
// tracker mirror first, host read-through for unseen paths.
func (b *Bridge) lookupOrRead(path string) (scene.Target, error) {
	if target, ok := b.tracker.Lookup(path); ok {
		return target, nil
	}
	return b.readThrough(path)
}

// readThrough reads from the host and populates the mirror.
func (b *Bridge) readThrough(path string) (scene.Target, error) {
	target, err := b.host.Read(path)
	if err != nil {
		if errors.Is(err, ErrUnknownTarget) {
			return scene.Target{}, protocol.Errorf(protocol.CodeNotFound, "target %q not found", path)
		}
		return scene.Target{}, protocol.AsCommandError(err)
	}
	b.tracker.Store(target)
	return target, nil
}

// Close shuts the bridge down, failing all pending and future
// operations. Idempotent.
func (b *Bridge) Close() {
	b.closeWith(protocol.Errorf(protocol.CodeConnection, "host bridge closed"))
}

// closeWith marks the bridge closed and fails every pending
// operation with reason.
func (b *Bridge) closeWith(reason error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	b.closeReason = reason
	pending := b.queue
	b.queue = nil
	b.mu.Unlock()

	for _, op := range pending {
		op.done <- operationResult{err: reason}
	}
}

// Closed reports whether the bridge has shut down.
func (b *Bridge) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

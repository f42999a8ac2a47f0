// Copyright 2026 The Rigbridge Authors
// SPDX-License-Identifier: Apache-2.0

// Package server accepts agent sessions and runs the per-session
// command loop over the newline-delimited JSON protocol.
//
// Each accepted connection is one session with its own goroutine and
// its own ordering state: commands on a session execute one at a
// time, and a command arriving before the previous response was sent
// is rejected with "busy" without touching the host. Sessions are
// otherwise independent; the host bridge interleaves their
// operations in submission order.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"

	"github.com/rigforge/rigbridge/dispatch"
	"github.com/rigforge/rigbridge/protocol"
)

// Options configures a Server.
type Options struct {
	// Network is "tcp" or "unix".
	Network string

	// Listen is the bind address (TCP address or Unix socket path).
	Listen string

	// MaxSessions bounds concurrent sessions. Connections past the
	// limit receive a connection-error response and are closed.
	// 0 means unlimited.
	MaxSessions int

	// Logger receives structured log output. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// Server owns the listener and the set of live sessions.
type Server struct {
	dispatcher  *dispatch.Dispatcher
	network     string
	listen      string
	maxSessions int
	logger      *slog.Logger

	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions int

	nextSessionID atomic.Int64
}

// New creates a Server. Start binds the listener.
func New(dispatcher *dispatch.Dispatcher, options Options) *Server {
	if options.Logger == nil {
		options.Logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		dispatcher:  dispatcher,
		network:     options.Network,
		listen:      options.Listen,
		maxSessions: options.MaxSessions,
		logger:      options.Logger,
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start binds the listener and begins accepting sessions.
func (s *Server) Start() error {
	if s.network == "unix" {
		// A previous unclean shutdown leaves the socket file behind;
		// binding would fail with "address already in use".
		if err := os.Remove(s.listen); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("removing stale socket %s: %w", s.listen, err)
		}
	}
	listener, err := net.Listen(s.network, s.listen)
	if err != nil {
		return fmt.Errorf("listening on %s %s: %w", s.network, s.listen, err)
	}
	s.listener = listener
	s.logger.Info("listening", "network", s.network, "address", listener.Addr().String())

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Addr returns the bound listen address. Valid after Start.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener, terminates every session, and waits for
// their goroutines to finish.
func (s *Server) Stop() {
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	s.wg.Wait()
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.ctx.Err() != nil {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}
		if !s.acquireSession() {
			s.rejectSession(conn)
			continue
		}
		sessionID := s.nextSessionID.Add(1)
		s.wg.Add(1)
		go s.runSession(sessionID, conn)
	}
}

// acquireSession claims a session slot. Returns false at the limit.
func (s *Server) acquireSession() bool {
	if s.maxSessions <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions >= s.maxSessions {
		return false
	}
	s.sessions++
	return true
}

func (s *Server) releaseSession() {
	if s.maxSessions <= 0 {
		return
	}
	s.mu.Lock()
	s.sessions--
	s.mu.Unlock()
}

// rejectSession answers an over-limit connection with a connection
// error and closes it, so the agent sees a reason instead of silence.
func (s *Server) rejectSession(conn net.Conn) {
	defer conn.Close()
	writer := protocol.NewMessageWriter(conn)
	response := protocol.Failure("", protocol.Errorf(protocol.CodeConnection,
		"session limit reached (%d active)", s.maxSessions))
	if err := writer.WriteResponse(response); err != nil {
		s.logger.Warn("writing session rejection failed", "error", err)
	}
	s.logger.Warn("session rejected at limit",
		"remote", conn.RemoteAddr().String(), "limit", s.maxSessions)
}

// runSession is the per-session command loop. A reader goroutine
// feeds decoded-or-not lines in; the loop is the sole response
// writer, so ordering on the wire follows dispatch completion with
// busy and decode rejections interleaved immediately.
func (s *Server) runSession(sessionID int64, conn net.Conn) {
	defer s.wg.Done()
	defer s.releaseSession()
	defer conn.Close()

	logger := s.logger.With("session", sessionID, "remote", conn.RemoteAddr().String())
	logger.Info("session opened")

	sessionCtx, cancelSession := context.WithCancel(s.ctx)
	defer cancelSession()

	// The reader goroutine blocks in conn.Read; closing the
	// connection (deferred above, or via Stop) unblocks it.
	incoming := make(chan []byte)
	go func() {
		defer close(incoming)
		reader := protocol.NewMessageReader(conn)
		for {
			message, err := reader.Next()
			if err != nil {
				return
			}
			select {
			case incoming <- message:
			case <-sessionCtx.Done():
				return
			}
		}
	}()

	writer := protocol.NewMessageWriter(conn)
	gate := &dispatch.SessionGate{}

	// Buffered so an in-flight dispatch can complete after the
	// session ends without leaking its goroutine.
	completed := make(chan protocol.Response, 1)

	for {
		select {
		case <-s.ctx.Done():
			logger.Info("session closed", "reason", "server shutdown")
			return

		case message, ok := <-incoming:
			if !ok {
				// Disconnect. An in-flight command keeps running on
				// the host (mutations are never rolled back); its
				// response has nowhere to go.
				cancelSession()
				logger.Info("session closed", "reason", "disconnect")
				return
			}
			response, dispatched := s.handleMessage(sessionCtx, gate, message, completed)
			if dispatched {
				continue
			}
			if err := writer.WriteResponse(response); err != nil {
				logger.Warn("session write failed", "error", err)
				return
			}

		case response := <-completed:
			gate.End()
			if err := writer.WriteResponse(response); err != nil {
				logger.Warn("session write failed", "error", err)
				return
			}
		}
	}
}

// handleMessage decodes one inbound message and either starts its
// dispatch (returning dispatched=true; the response arrives on
// completed later) or produces an immediate rejection response.
func (s *Server) handleMessage(ctx context.Context, gate *dispatch.SessionGate, message []byte, completed chan<- protocol.Response) (protocol.Response, bool) {
	request, err := protocol.DecodeRequest(message)
	if err != nil {
		return protocol.Failure(request.ID, err), false
	}
	if !gate.Begin() {
		return protocol.Failure(request.ID, protocol.Errorf(protocol.CodeBusy,
			"previous command still dispatching; wait for its response")), false
	}
	go func() {
		completed <- s.dispatcher.Dispatch(ctx, request)
	}()
	return protocol.Response{}, true
}

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
)

// Gateway keeps one authenticated gateway connection alive.
type Gateway struct {
	cfg        Config
	dispatcher Dispatcher
	logger     *slog.Logger

	state  *State
	policy *Policy
	phase  atomic.Int32

	// Lifecycle
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	sock    *socket

	// Consecutive non-resumable INVALID_SESSION replies to IDENTIFY.
	// Only touched by the connection loop.
	identifyRejections int
}

// New creates a Gateway. d may be nil, in which case dispatch events are
// only used for session bookkeeping.
func New(cfg Config, d Dispatcher, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}

	done := make(chan struct{})
	close(done)

	return &Gateway{
		cfg:        cfg,
		dispatcher: d,
		logger:     logger,
		state:      &State{},
		policy:     NewPolicy(cfg.Backoff),
		done:       done,
	}
}

// Start launches the connection loop. It returns ErrAlreadyRunning, and does
// nothing else, if the loop is already running. Cancelling ctx stops the loop.
func (g *Gateway) Start(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.running {
		return ErrAlreadyRunning
	}

	g.running = true
	g.err = nil
	g.state.ClearFatal()
	g.policy.Reset()
	g.identifyRejections = 0

	runCtx, cancel := context.WithCancel(ctx)
	g.cancel = cancel
	g.done = make(chan struct{})

	go g.run(runCtx, g.done)

	g.logger.Info("gateway started", "url", g.cfg.URL)
	return nil
}

// Stop cancels the connection loop, closes the socket and waits for every
// goroutine to exit. The wait is bounded by ctx, or by Config.StopTimeout
// when ctx has no deadline. Stop is safe to call when never started.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	cancel := g.cancel
	done := g.done
	sock := g.sock
	running := g.running
	g.mu.Unlock()

	if cancel == nil {
		return nil
	}

	if running {
		g.logger.Info("stopping gateway")
		g.setPhase(PhaseClosing)
	}

	cancel()
	if sock != nil {
		sock.Close()
	}

	if _, ok := ctx.Deadline(); !ok && g.cfg.StopTimeout > 0 {
		var stopCancel context.CancelFunc
		ctx, stopCancel = context.WithTimeout(ctx, g.cfg.StopTimeout)
		defer stopCancel()
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		g.logger.Warn("shutdown timeout, forcing close")
		return fmt.Errorf("stop gateway: %w", ctx.Err())
	}
}

// Done is closed when the connection loop exits.
func (g *Gateway) Done() <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.done
}

// Err returns why the loop exited: nil after Stop, an error matching ErrFatal
// after a fatal close, or ErrRetriesExhausted after too many failures.
func (g *Gateway) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.err
}

// Phase returns the current lifecycle stage.
func (g *Gateway) Phase() Phase {
	return Phase(g.phase.Load())
}

// State returns a snapshot of the session state.
func (g *Gateway) State() StateSnapshot {
	snap := g.state.Snapshot()
	snap.Attempts = g.policy.Attempts()
	snap.Phase = g.Phase()
	return snap
}

func (g *Gateway) setPhase(p Phase) {
	g.phase.Store(int32(p))
}

func (g *Gateway) setSocket(s *socket) {
	g.mu.Lock()
	g.sock = s
	g.mu.Unlock()
}

// run is the outer reconnect loop.
func (g *Gateway) run(ctx context.Context, done chan struct{}) {
	err := g.loop(ctx)

	g.setPhase(PhaseDisconnected)
	g.mu.Lock()
	g.err = err
	g.running = false
	g.mu.Unlock()
	close(done)

	switch {
	case err == nil:
		g.logger.Info("gateway stopped")
	case errors.Is(err, ErrFatal):
		g.logger.Error("gateway stopped: fatal error, not reconnecting", "error", err)
	default:
		g.logger.Error("gateway stopped", "error", err)
	}
}

func (g *Gateway) loop(ctx context.Context) error {
	b := backoff.WithContext(g.policy, ctx)

	for {
		err := g.runAttempt(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, ErrFatal) {
			g.state.MarkFatal()
			return err
		}

		wait := b.NextBackOff()
		if wait == backoff.Stop {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, g.policy.Attempts(), err)
		}

		g.setPhase(PhaseDisconnected)
		g.logger.Warn("gateway connection lost, reconnecting",
			"error", err,
			"attempt", g.policy.Attempts(),
			"wait", wait,
		)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// runAttempt dials once and serves the connection until it ends.
func (g *Gateway) runAttempt(ctx context.Context) error {
	g.setPhase(PhaseConnecting)

	sock := newSocket(g.cfg, g.logger)
	if err := sock.Connect(ctx); err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	g.policy.Reset()
	g.setSocket(sock)

	attemptCtx, cancel := context.WithCancel(ctx)
	hb := newHeartbeatMonitor(attemptCtx, g.state, sock, g.logger)

	var watch sync.WaitGroup
	watch.Add(1)
	go func() {
		defer watch.Done()
		<-attemptCtx.Done()
		if ctx.Err() != nil {
			sock.Close()
		} else {
			sock.Abort(nil)
		}
	}()

	defer func() {
		cancel()
		hb.stop()
		watch.Wait()
		sock.Wait()
		g.setSocket(nil)
	}()

	if err := g.handshake(sock); err != nil {
		return err
	}

	for {
		select {
		case data := <-sock.Messages():
			if err := g.handleMessage(attemptCtx, sock, hb, data); err != nil {
				return err
			}
		case err := <-sock.Errors():
			return classifyReadError(err)
		case <-sock.Done():
			if cause := sock.Cause(); cause != nil {
				return cause
			}
			return ErrConnectionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// handshake sends RESUME when the session can be resumed, IDENTIFY otherwise.
func (g *Gateway) handshake(sock *socket) error {
	if sessionID, seq, ok := g.state.ResumeParams(); ok {
		g.setPhase(PhaseResuming)
		g.logger.Info("resuming session", "session_id", sessionID, "seq", seq)
		if err := sock.SendJSON(resumePayload(g.cfg.Token, sessionID, seq)); err != nil {
			return fmt.Errorf("send resume: %w", err)
		}
		return nil
	}

	g.setPhase(PhaseIdentifying)
	g.logger.Info("identifying")
	if err := sock.SendJSON(identifyPayload(g.cfg.Token, g.cfg.Properties)); err != nil {
		return fmt.Errorf("send identify: %w", err)
	}
	return nil
}

// handleMessage processes one inbound frame. A non-nil error ends the attempt.
func (g *Gateway) handleMessage(ctx context.Context, sock *socket, hb *heartbeatMonitor, data []byte) error {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		g.logger.Error("failed to decode frame", "error", err, "size", len(data))
		return nil
	}

	// Sequence is recorded before anything else looks at the frame.
	if f.S != nil {
		g.state.SetSequence(*f.S)
	}

	switch f.Op {
	case OpHello:
		var hello helloData
		if err := json.Unmarshal(f.D, &hello); err != nil || hello.HeartbeatInterval <= 0 {
			g.logger.Error("invalid hello payload", "error", err, "data", string(f.D))
			return nil
		}
		interval := time.Duration(hello.HeartbeatInterval) * time.Millisecond
		g.state.SetHeartbeatInterval(interval, time.Now())
		hb.start(interval)
		g.logger.Debug("hello received", "heartbeat_interval", interval)

	case OpHeartbeatAck:
		g.state.Ack(time.Now())

	case OpHeartbeat:
		if err := sendHeartbeat(sock, g.state); err != nil {
			g.logger.Debug("requested heartbeat failed", "error", err)
		}

	case OpReconnect:
		g.logger.Info("server requested reconnect")
		sock.Abort(ErrReconnectRequested)
		return ErrReconnectRequested

	case OpInvalidSession:
		return g.handleInvalidSession(ctx, f.D)

	case OpDispatch:
		g.handleDispatch(f)

	default:
		g.logger.Debug("ignoring unknown opcode", "op", f.Op)
	}

	return nil
}

// handleInvalidSession drops the session unless the server marked it
// resumable, waits, and ends the attempt so the loop reconnects.
func (g *Gateway) handleInvalidSession(ctx context.Context, d json.RawMessage) error {
	var resumable bool
	if err := json.Unmarshal(d, &resumable); err != nil {
		resumable = false
	}

	if !resumable {
		identified := g.Phase() == PhaseIdentifying
		g.state.ResetSession()

		if identified {
			g.identifyRejections++
			if limit := g.cfg.MaxIdentifyRejections; limit > 0 && g.identifyRejections > limit {
				return fmt.Errorf("%w: %w (%d in a row)", ErrFatal, ErrIdentifyRejected, g.identifyRejections)
			}
		}
	}

	g.logger.Warn("invalid session", "resumable", resumable)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(g.cfg.InvalidSessionDelay):
	}
	return ErrInvalidSession
}

func (g *Gateway) handleDispatch(f Frame) {
	switch f.T {
	case "READY":
		var ready readyData
		if err := json.Unmarshal(f.D, &ready); err != nil {
			g.logger.Error("invalid ready payload", "error", err)
		} else {
			g.state.SetSession(ready.SessionID)
		}
		g.identifyRejections = 0
		g.setPhase(PhaseConnected)
		g.logger.Info("session established", "session_id", ready.SessionID)

	case "RESUMED":
		g.setPhase(PhaseConnected)
		seq, _ := g.state.Sequence()
		g.logger.Info("session resumed", "seq", seq)
	}

	if g.dispatcher != nil {
		g.dispatcher.Dispatch(f.T, f.D)
	}
}

// classifyReadError turns a socket read error into a retriable error or one
// matching ErrFatal.
func classifyReadError(err error) error {
	var wsErr *websocket.CloseError
	if errors.As(err, &wsErr) {
		closeErr := &CloseError{Code: wsErr.Code, Text: wsErr.Text}
		if closeErr.Fatal() {
			return fmt.Errorf("%w: %w", ErrFatal, closeErr)
		}
		return closeErr
	}
	return fmt.Errorf("read frame: %w", err)
}

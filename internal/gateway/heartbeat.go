package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// heartbeatMonitor runs the heartbeat goroutine for one connection attempt.
// start and stop are only called from the connection loop.
type heartbeatMonitor struct {
	parent context.Context
	state  *State
	sock   *socket
	logger *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newHeartbeatMonitor(ctx context.Context, state *State, sock *socket, logger *slog.Logger) *heartbeatMonitor {
	return &heartbeatMonitor{
		parent: ctx,
		state:  state,
		sock:   sock,
		logger: logger,
	}
}

// start replaces any running heartbeat goroutine with one using interval.
func (m *heartbeatMonitor) start(interval time.Duration) {
	m.stop()

	ctx, cancel := context.WithCancel(m.parent)
	m.cancel = cancel
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(ctx, interval)
	}()
}

// stop cancels the heartbeat goroutine and waits for it to exit.
func (m *heartbeatMonitor) stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.wg.Wait()
}

// run beats immediately and then once per interval. After each beat it
// checks that an ack arrived within two intervals. A failed send or an
// overdue ack aborts the socket so the connection loop reconnects.
func (m *heartbeatMonitor) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := sendHeartbeat(m.sock, m.state); err != nil {
			if ctx.Err() != nil {
				return
			}
			// A failed write leaves the websocket unusable
			m.logger.Warn("heartbeat send failed, forcing reconnect", "error", err)
			m.sock.Abort(fmt.Errorf("send heartbeat: %w", err))
			return
		}

		if since := time.Since(m.state.LastAck()); since > 2*interval {
			m.logger.Warn("heartbeat ack overdue, forcing reconnect",
				"since_ack", since,
				"interval", interval,
			)
			m.sock.Abort(ErrHeartbeatTimeout)
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func sendHeartbeat(sock *socket, state *State) error {
	seq, ok := state.Sequence()
	return sock.SendJSON(heartbeatPayload(seq, ok))
}

package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// socket is a single WebSocket connection to the gateway. One socket is
// created per connection attempt and never reused.
type socket struct {
	url              string
	writeTimeout     time.Duration
	handshakeTimeout time.Duration
	logger           *slog.Logger

	conn *websocket.Conn

	// Output channels. messages is unbuffered so a read error is never
	// observed ahead of the frames that preceded it.
	messages chan []byte
	errors   chan error
	done     chan struct{}
	readDone chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
	cause     error
}

func newSocket(cfg Config, logger *slog.Logger) *socket {
	if logger == nil {
		logger = slog.Default()
	}

	return &socket{
		url:              cfg.URL,
		writeTimeout:     cfg.WriteTimeout,
		handshakeTimeout: cfg.HandshakeTimeout,
		logger:           logger,
		messages:         make(chan []byte),
		errors:           make(chan error, 1),
		done:             make(chan struct{}),
		readDone:         make(chan struct{}),
	}
}

// Connect dials the gateway and starts the read loop.
func (s *socket) Connect(ctx context.Context) error {
	header := http.Header{}
	header.Set("Accept", "application/json")

	dialer := websocket.Dialer{
		HandshakeTimeout: s.handshakeTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		close(s.readDone)
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connected = true
	s.mu.Unlock()

	go s.readLoop()

	s.logger.Debug("websocket connected", "url", s.url)
	return nil
}

// Close closes the connection with a normal closure, ending the session.
func (s *socket) Close() error {
	return s.shutdown(websocket.CloseNormalClosure, nil)
}

// Abort closes the connection with a code that keeps the session resumable
// and records cause as the reason the connection ended.
func (s *socket) Abort(cause error) {
	if err := s.shutdown(CloseResumable, cause); err != nil {
		s.logger.Debug("abort close failed", "error", err)
	}
}

func (s *socket) shutdown(code int, cause error) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.connected = false
	s.cause = cause
	conn := s.conn
	s.mu.Unlock()

	close(s.done)

	if conn == nil {
		return nil
	}

	s.writeMu.Lock()
	err := conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(code, ""),
		time.Now().Add(time.Second),
	)
	s.writeMu.Unlock()
	if err != nil {
		s.logger.Debug("close frame not sent", "code", code, "error", err)
	}
	return conn.Close()
}

// Send writes raw bytes to the connection.
func (s *socket) Send(data []byte) error {
	s.mu.RLock()
	if !s.connected {
		s.mu.RUnlock()
		return ErrNotConnected
	}
	conn := s.conn
	s.mu.RUnlock()

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(s.writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// SendJSON marshals v and writes it.
func (s *socket) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	return s.Send(data)
}

// Messages returns the inbound frame channel.
func (s *socket) Messages() <-chan []byte {
	return s.messages
}

// Errors returns the read error channel. At most one error is delivered.
func (s *socket) Errors() <-chan error {
	return s.errors
}

// Done is closed once Close or Abort has been called.
func (s *socket) Done() <-chan struct{} {
	return s.done
}

// Cause returns the error passed to Abort, if any.
func (s *socket) Cause() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cause
}

// Wait blocks until the read loop has exited.
func (s *socket) Wait() {
	<-s.readDone
}

// IsConnected returns the current connection state.
func (s *socket) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

// readLoop reads frames and hands them to the messages channel.
func (s *socket) readLoop() {
	defer close(s.readDone)
	defer func() {
		s.mu.Lock()
		s.connected = false
		s.mu.Unlock()
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			// Ignore errors after Close() or Abort()
			select {
			case <-s.done:
				return
			default:
				select {
				case s.errors <- err:
				default:
				}
				return
			}
		}

		select {
		case s.messages <- data:
		case <-s.done:
			return
		}
	}
}

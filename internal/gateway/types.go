package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Errors
var (
	ErrNotConnected       = errors.New("not connected")
	ErrAlreadyRunning     = errors.New("gateway already running")
	ErrConnectionClosed   = errors.New("connection closed")
	ErrHeartbeatTimeout   = errors.New("heartbeat ack timeout")
	ErrReconnectRequested = errors.New("server requested reconnect")
	ErrInvalidSession     = errors.New("invalid session")
	ErrIdentifyRejected   = errors.New("identify repeatedly rejected")
	ErrFatal              = errors.New("fatal gateway error")
	ErrRetriesExhausted   = errors.New("reconnect attempts exhausted")
)

// DefaultURL is the public gateway endpoint.
const DefaultURL = "wss://gateway.discord.gg/?v=9&encoding=json"

// Opcode identifies the kind of a gateway frame.
type Opcode int

const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

// Close codes.
const (
	// CloseResumable is sent by the client when it drops a connection it
	// intends to resume. Any 4xxx code other than 1000/1001 keeps the session.
	CloseResumable = 4000

	CloseAuthenticationFailed = 4004
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// IsFatalCloseCode reports whether a close code means reconnecting is futile.
func IsFatalCloseCode(code int) bool {
	switch code {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return true
	}
	return false
}

// CloseError is a close frame received from the server.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("gateway closed with code %d", e.Code)
	}
	return fmt.Sprintf("gateway closed with code %d: %s", e.Code, e.Text)
}

// Fatal reports whether the close code is terminal.
func (e *CloseError) Fatal() bool {
	return IsFatalCloseCode(e.Code)
}

// Frame is a single inbound gateway payload.
type Frame struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
	S  *int64          `json:"s"`
	T  string          `json:"t"`
}

// outbound is a client-to-server payload.
type outbound struct {
	Op Opcode `json:"op"`
	D  any    `json:"d"`
}

// IdentifyProperties describe the connecting client.
type IdentifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

type identifyData struct {
	Token      string             `json:"token"`
	Properties IdentifyProperties `json:"properties"`
}

type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

type readyData struct {
	SessionID string `json:"session_id"`
}

func identifyPayload(token string, props IdentifyProperties) outbound {
	return outbound{Op: OpIdentify, D: identifyData{Token: token, Properties: props}}
}

func resumePayload(token, sessionID string, seq int64) outbound {
	return outbound{Op: OpResume, D: resumeData{Token: token, SessionID: sessionID, Seq: seq}}
}

// heartbeatPayload carries the last sequence number, or null before any.
func heartbeatPayload(seq int64, ok bool) outbound {
	if !ok {
		return outbound{Op: OpHeartbeat, D: nil}
	}
	return outbound{Op: OpHeartbeat, D: seq}
}

// Dispatcher receives DISPATCH events. Dispatch is called from the connection
// loop and must not block on slow work.
type Dispatcher interface {
	Dispatch(eventType string, data json.RawMessage)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(eventType string, data json.RawMessage)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(eventType string, data json.RawMessage) {
	f(eventType, data)
}

// BackoffConfig configures the reconnect policy.
type BackoffConfig struct {
	BaseDelay   time.Duration // Delay for the first retry
	MaxDelay    time.Duration // Ceiling before jitter
	Jitter      float64       // Symmetric jitter fraction, 0.1 = ±10%
	MaxAttempts int           // Consecutive failures before giving up, 0 = never
}

// DefaultBackoffConfig returns the standard reconnect schedule.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		BaseDelay:   1 * time.Second,
		MaxDelay:    30 * time.Second,
		Jitter:      0.1,
		MaxAttempts: 10,
	}
}

// Config configures a Gateway.
type Config struct {
	URL                   string             // Gateway WebSocket URL
	Token                 string             // Credential sent in IDENTIFY and RESUME
	Properties            IdentifyProperties // Client description sent in IDENTIFY
	WriteTimeout          time.Duration      // Write deadline for sends
	HandshakeTimeout      time.Duration      // WebSocket upgrade timeout
	InvalidSessionDelay   time.Duration      // Pause after INVALID_SESSION before reconnecting
	StopTimeout           time.Duration      // Bound on Stop when ctx has no deadline
	MaxIdentifyRejections int                // Non-resumable rejections of IDENTIFY tolerated in a row
	Backoff               BackoffConfig
}

// DefaultConfig returns sensible defaults. Token must still be set.
func DefaultConfig() Config {
	return Config{
		URL: DefaultURL,
		Properties: IdentifyProperties{
			OS:      "linux",
			Browser: "chrome",
			Device:  "chrome",
		},
		WriteTimeout:          5 * time.Second,
		HandshakeTimeout:      10 * time.Second,
		InvalidSessionDelay:   1 * time.Second,
		StopTimeout:           10 * time.Second,
		MaxIdentifyRejections: 3,
		Backoff:               DefaultBackoffConfig(),
	}
}

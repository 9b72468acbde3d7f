package gateway

import (
	"sync"
	"time"
)

// State is the per-gateway session state. It survives reconnects so that a
// dropped connection can be resumed. All methods are safe for concurrent use;
// the lock is never held across I/O.
type State struct {
	mu        sync.RWMutex
	seq       int64
	hasSeq    bool
	sessionID string
	interval  time.Duration
	lastAck   time.Time
	fatal     bool
}

// StateSnapshot is a point-in-time copy of State.
type StateSnapshot struct {
	Sequence          int64
	HasSequence       bool
	SessionID         string
	HeartbeatInterval time.Duration
	LastAck           time.Time
	Attempts          int
	Fatal             bool
	Phase             Phase
}

// SetSequence records the sequence number of the latest frame.
func (s *State) SetSequence(seq int64) {
	s.mu.Lock()
	s.seq = seq
	s.hasSeq = true
	s.mu.Unlock()
}

// Sequence returns the last sequence number, if any.
func (s *State) Sequence() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.seq, s.hasSeq
}

// SetSession records the session id from READY.
func (s *State) SetSession(id string) {
	s.mu.Lock()
	s.sessionID = id
	s.mu.Unlock()
}

// SessionID returns the current session id, empty when there is none.
func (s *State) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sessionID
}

// ResumeParams returns what RESUME needs. ok is false when the session
// cannot be resumed and IDENTIFY must be used instead.
func (s *State) ResumeParams() (sessionID string, seq int64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.sessionID == "" || !s.hasSeq {
		return "", 0, false
	}
	return s.sessionID, s.seq, true
}

// ResetSession forgets the session id and sequence number.
func (s *State) ResetSession() {
	s.mu.Lock()
	s.sessionID = ""
	s.seq = 0
	s.hasSeq = false
	s.mu.Unlock()
}

// SetHeartbeatInterval records the interval from HELLO and restarts the
// ack clock, so a fresh connection is not judged by the previous one's acks.
func (s *State) SetHeartbeatInterval(d time.Duration, now time.Time) {
	s.mu.Lock()
	s.interval = d
	s.lastAck = now
	s.mu.Unlock()
}

// HeartbeatInterval returns the interval from the latest HELLO.
func (s *State) HeartbeatInterval() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.interval
}

// Ack records a heartbeat acknowledgement.
func (s *State) Ack(now time.Time) {
	s.mu.Lock()
	s.lastAck = now
	s.mu.Unlock()
}

// LastAck returns the time of the latest acknowledgement.
func (s *State) LastAck() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastAck
}

// MarkFatal sets the fatal flag and drops the session.
func (s *State) MarkFatal() {
	s.mu.Lock()
	s.fatal = true
	s.sessionID = ""
	s.seq = 0
	s.hasSeq = false
	s.mu.Unlock()
}

// ClearFatal clears the fatal flag. Called on an explicit Start.
func (s *State) ClearFatal() {
	s.mu.Lock()
	s.fatal = false
	s.mu.Unlock()
}

// Fatal reports whether a fatal close was observed.
func (s *State) Fatal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.fatal
}

// Snapshot returns a copy of the state.
func (s *State) Snapshot() StateSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return StateSnapshot{
		Sequence:          s.seq,
		HasSequence:       s.hasSeq,
		SessionID:         s.sessionID,
		HeartbeatInterval: s.interval,
		LastAck:           s.lastAck,
		Fatal:             s.fatal,
	}
}

// Phase is the connection lifecycle stage.
type Phase int32

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseIdentifying
	PhaseResuming
	PhaseConnected
	PhaseClosing
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseIdentifying:
		return "identifying"
	case PhaseResuming:
		return "resuming"
	case PhaseConnected:
		return "connected"
	case PhaseClosing:
		return "closing"
	}
	return "unknown"
}

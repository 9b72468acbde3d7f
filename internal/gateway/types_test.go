package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
)

func TestIsFatalCloseCode(t *testing.T) {
	tests := []struct {
		code int
		want bool
	}{
		{1000, false},
		{1006, false},
		{4000, false},
		{4004, true},
		{4009, false},
		{4010, true},
		{4011, true},
		{4012, true},
		{4013, true},
		{4014, true},
		{4015, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("code=%d", tt.code), func(t *testing.T) {
			if got := IsFatalCloseCode(tt.code); got != tt.want {
				t.Errorf("IsFatalCloseCode(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestPayloads(t *testing.T) {
	tests := []struct {
		name    string
		payload outbound
		want    string
	}{
		{
			name:    "identify",
			payload: identifyPayload("T", IdentifyProperties{OS: "linux", Browser: "chrome", Device: "chrome"}),
			want:    `{"op":2,"d":{"token":"T","properties":{"os":"linux","browser":"chrome","device":"chrome"}}}`,
		},
		{
			name:    "resume",
			payload: resumePayload("T", "abc", 42),
			want:    `{"op":6,"d":{"token":"T","session_id":"abc","seq":42}}`,
		},
		{
			name:    "heartbeat with sequence",
			payload: heartbeatPayload(7, true),
			want:    `{"op":1,"d":7}`,
		},
		{
			name:    "heartbeat before any sequence",
			payload: heartbeatPayload(0, false),
			want:    `{"op":1,"d":null}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.payload)
			if err != nil {
				t.Fatalf("Marshal failed: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("payload = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestFrameDecode(t *testing.T) {
	var f Frame
	data := `{"op":0,"s":12,"t":"MESSAGE_CREATE","d":{"id":"1"}}`
	if err := json.Unmarshal([]byte(data), &f); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if f.Op != OpDispatch {
		t.Errorf("Op = %d, want %d", f.Op, OpDispatch)
	}
	if f.S == nil || *f.S != 12 {
		t.Errorf("S = %v, want 12", f.S)
	}
	if f.T != "MESSAGE_CREATE" {
		t.Errorf("T = %q, want MESSAGE_CREATE", f.T)
	}

	var hb Frame
	if err := json.Unmarshal([]byte(`{"op":11,"s":null,"t":null,"d":null}`), &hb); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if hb.S != nil {
		t.Errorf("S = %v, want nil", *hb.S)
	}
}

func TestCloseError(t *testing.T) {
	err := fmt.Errorf("%w: %w", ErrFatal, &CloseError{Code: 4004, Text: "Authentication failed."})

	if !errors.Is(err, ErrFatal) {
		t.Error("errors.Is(err, ErrFatal) = false")
	}
	var ce *CloseError
	if !errors.As(err, &ce) {
		t.Fatal("errors.As(err, *CloseError) = false")
	}
	if ce.Code != 4004 || !ce.Fatal() {
		t.Errorf("CloseError = %+v, want fatal 4004", ce)
	}
	if (&CloseError{Code: 1006}).Fatal() {
		t.Error("1006 should not be fatal")
	}
}

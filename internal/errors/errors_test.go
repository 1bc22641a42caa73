package errors

import (
	stderrors "errors"
	"strings"
	"testing"
)

func TestTransportError_Format(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransportError
		contains []string
	}{
		{
			name:     "bare message",
			err:      NewTransportError("write failed", nil),
			contains: []string{"transport error", "write failed"},
		},
		{
			name:     "with direction and addr",
			err:      NewTransportError("connection reset", ErrPeerDisconnected).WithDirection("outbound").WithAddr("127.0.0.1:9001"),
			contains: []string{"[outbound 127.0.0.1:9001]", "connection reset", "peer disconnected"},
		},
		{
			name:     "direction only",
			err:      NewTransportError("accept failed", nil).WithDirection("inbound"),
			contains: []string{"[inbound]", "accept failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.contains {
				if !strings.Contains(msg, want) {
					t.Errorf("error %q does not contain %q", msg, want)
				}
			}
		})
	}
}

func TestProtocolError_Scope(t *testing.T) {
	err := NewProtocolError("duplicate registration", ErrPhaseRegistered).WithScope(7, "chase")
	msg := err.Error()
	if !strings.Contains(msg, "episode=7") || !strings.Contains(msg, "phase=chase") {
		t.Errorf("error %q missing scope context", msg)
	}
	if !Is(err, ErrPhaseRegistered) {
		t.Error("ProtocolError does not match its cause via errors.Is")
	}
}

func TestScenarioError_Unwrap(t *testing.T) {
	cause := New("pathfinding stuck")
	err := NewScenarioError("run hook failed", cause).WithScenario("chase").WithHook("run")

	if !Is(err, cause) {
		t.Error("errors.Is does not reach the wrapped cause")
	}
	var serr *ScenarioError
	if !As(err, &serr) {
		t.Fatal("errors.As failed for *ScenarioError")
	}
	if serr.Scenario != "chase" || serr.Hook != "run" {
		t.Errorf("scenario context = (%q, %q)", serr.Scenario, serr.Hook)
	}
}

func TestIsProtocolViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel registered", err: ErrPhaseRegistered, want: true},
		{name: "sentinel consumed", err: ErrPhaseConsumed, want: true},
		{name: "wrapped sentinel", err: stderrors.Join(New("outer"), ErrPhaseConsumed), want: true},
		{name: "protocol type", err: NewProtocolError("bad ordering", nil), want: true},
		{name: "unrelated", err: New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProtocolViolation(tt.err); got != tt.want {
				t.Errorf("IsProtocolViolation(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestIsDisconnect(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "sentinel", err: ErrPeerDisconnected, want: true},
		{name: "not connected", err: ErrNotConnected, want: true},
		{name: "transport type", err: NewTransportError("reset", nil), want: true},
		{name: "scenario error", err: NewScenarioError("boom", nil), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDisconnect(tt.err); got != tt.want {
				t.Errorf("IsDisconnect(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

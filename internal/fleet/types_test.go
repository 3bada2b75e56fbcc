package fleet

import "testing"

func TestCommandStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to CommandStatus
		want     bool
	}{
		{StatusQueued, StatusIssued, true},
		{StatusQueued, StatusExpired, true},
		{StatusQueued, StatusCanceled, true},
		{StatusQueued, StatusExecuting, false},
		{StatusIssued, StatusExecuting, true},
		{StatusIssued, StatusCanceled, true},
		{StatusIssued, StatusCompleted, false},
		{StatusExecuting, StatusCompleted, true},
		{StatusExecuting, StatusError, true},
		{StatusExecuting, StatusCanceled, false},
		{StatusCompleted, StatusQueued, false},
		{StatusExpired, StatusIssued, false},
		{StatusError, StatusExecuting, false},
	}
	for _, tt := range tests {
		if got := tt.from.CanTransition(tt.to); got != tt.want {
			t.Errorf("%s -> %s: got %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestCommandStatus_Terminal(t *testing.T) {
	terminal := []CommandStatus{StatusCompleted, StatusCanceled, StatusExpired, StatusError}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
		if s.InFlight() {
			t.Errorf("%s should not be in flight", s)
		}
	}
	for _, s := range []CommandStatus{StatusQueued, StatusIssued, StatusExecuting} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
		if !s.InFlight() {
			t.Errorf("%s should be in flight", s)
		}
	}
}

func TestValidStatus(t *testing.T) {
	if !ValidStatus("QUEUED") || !ValidStatus("ERROR") {
		t.Error("known statuses rejected")
	}
	if ValidStatus("queued") || ValidStatus("RUNNING") || ValidStatus("") {
		t.Error("unknown statuses accepted")
	}
}

package clockcheck

import (
	"context"
	"testing"
	"time"
)

func TestChecker_CheckFuncInjection(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	c := NewChecker("", func() time.Time { return now })

	if got := c.Status().Phase; got != Unchecked {
		t.Fatalf("initial phase %s, want unchecked", got)
	}

	c.CheckFunc = func() Status {
		return Status{Offset: 12 * time.Millisecond, Phase: Healthy, CheckedAt: now}
	}
	c.check()

	st := c.Status()
	if st.Phase != Healthy {
		t.Errorf("phase %s, want healthy", st.Phase)
	}
	if st.Offset != 12*time.Millisecond {
		t.Errorf("offset %v", st.Offset)
	}
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	c := NewChecker("", time.Now)
	c.CheckFunc = func() Status { return Status{Phase: Healthy} }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		c.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not stop on cancel")
	}
}

func TestPhase_String(t *testing.T) {
	tests := map[Phase]string{
		Unchecked:       "unchecked",
		Healthy:         "healthy",
		UnhealthyOffset: "unhealthy_offset",
		Error:           "error",
		Phase(99):       "unknown",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("%d: got %q, want %q", p, got, want)
		}
	}
}

func TestPhase_Transition(t *testing.T) {
	if got := Unchecked.Transition(Healthy); got != Healthy {
		t.Errorf("unchecked -> healthy: got %s", got)
	}
	if got := Error.Transition(Healthy); got != Healthy {
		t.Errorf("error -> healthy: got %s", got)
	}
}

// Package clockcheck watches the server's own clock against NTP. Heartbeat
// timestamps are only trustworthy relative to received_at when the server
// clock itself is sane, so the health endpoint reports this status.
package clockcheck

import (
	"context"
	"sync"
	"time"

	"triton/internal/check"

	"github.com/beevik/ntp"
)

const (
	defaultInterval  = 60 * time.Second
	defaultThreshold = 500 * time.Millisecond
)

type Phase uint8

const (
	Unchecked Phase = iota + 1
	Healthy
	UnhealthyOffset
	Error
)

func (p Phase) String() string {
	switch p {
	case Unchecked:
		return "unchecked"
	case Healthy:
		return "healthy"
	case UnhealthyOffset:
		return "unhealthy_offset"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

func (p Phase) Transition(to Phase) Phase {
	ok := false
	switch p {
	case Unchecked:
		ok = to == Healthy || to == UnhealthyOffset || to == Error
	case Healthy:
		ok = to == UnhealthyOffset || to == Error || to == Healthy
	case UnhealthyOffset:
		ok = to == Healthy || to == Error || to == UnhealthyOffset
	case Error:
		ok = to == Healthy || to == UnhealthyOffset || to == Error
	}
	check.Assertf(ok, "clock transition: %s -> %s", p, to)
	if !ok {
		return p
	}
	return to
}

type Status struct {
	Offset    time.Duration
	Phase     Phase
	Error     string
	CheckedAt time.Time
}

// Checker polls an NTP pool on a fixed interval and keeps the latest
// verdict. CheckFunc, when set, replaces the network query entirely.
type Checker struct {
	mu        sync.RWMutex
	status    Status
	pool      string
	interval  time.Duration
	threshold time.Duration
	clock     func() time.Time

	CheckFunc func() Status
}

func NewChecker(pool string, clock func() time.Time) *Checker {
	check.Assert(clock != nil, "clockcheck.NewChecker: clock must not be nil")
	if pool == "" {
		pool = "pool.ntp.org"
	}
	return &Checker{
		pool:      pool,
		interval:  defaultInterval,
		threshold: defaultThreshold,
		status:    Status{Phase: Unchecked},
		clock:     clock,
	}
}

func (n *Checker) Run(ctx context.Context) {
	n.check()

	ticker := time.NewTicker(n.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.check()
		}
	}
}

func (n *Checker) check() {
	if n.CheckFunc != nil {
		n.mu.Lock()
		n.status = n.CheckFunc()
		n.mu.Unlock()
		return
	}

	resp, err := ntp.Query(n.pool)

	n.mu.Lock()
	defer n.mu.Unlock()

	now := n.clock()
	if err != nil {
		n.status = Status{Error: err.Error(), Phase: n.status.Phase.Transition(Error), CheckedAt: now}
		return
	}

	phase := UnhealthyOffset
	if resp.ClockOffset.Abs() < n.threshold {
		phase = Healthy
	}
	n.status = Status{Offset: resp.ClockOffset, Phase: n.status.Phase.Transition(phase), CheckedAt: now}
}

func (n *Checker) Status() Status {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.status
}

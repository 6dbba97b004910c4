package notifications

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("mail provider circuit open")

type ProtectedNotifierConfig struct {
	Timeout          time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	// OnStateChange, when set, is called outside the lock after every transition.
	OnStateChange func(from, to BreakerState)
}

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ProtectedNotifier bounds every send with a timeout and stops calling the
// provider after repeated failures, so an outage fails forgot-password
// requests fast. After the cooldown a single trial send decides whether the
// circuit closes again.
type ProtectedNotifier struct {
	inner Notifier
	cfg   ProtectedNotifierConfig
	now   func() time.Time

	mu        sync.Mutex
	state     BreakerState
	failures  int
	openedAt  time.Time
	trialBusy bool
}

func NewProtectedNotifier(inner Notifier, cfg ProtectedNotifierConfig) *ProtectedNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 3 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 15 * time.Second
	}

	return &ProtectedNotifier{inner: inner, cfg: cfg, now: time.Now}
}

func (n *ProtectedNotifier) State() BreakerState {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

func (n *ProtectedNotifier) SendPasswordReset(ctx context.Context, input PasswordResetInput) error {
	if !n.acquire() {
		return ErrCircuitOpen
	}

	sendCtx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	err := n.inner.SendPasswordReset(sendCtx, input)

	// a caller that gave up says nothing about the provider
	if err != nil && ctx.Err() != nil {
		n.release()
		return err
	}

	n.record(err)
	return err
}

func (n *ProtectedNotifier) acquire() bool {
	n.mu.Lock()
	from := n.state
	ok := true

	switch n.state {
	case BreakerOpen:
		if n.now().Sub(n.openedAt) < n.cfg.Cooldown {
			ok = false
			break
		}
		n.state = BreakerHalfOpen
		n.trialBusy = true
	case BreakerHalfOpen:
		if n.trialBusy {
			ok = false
			break
		}
		n.trialBusy = true
	}

	to := n.state
	n.mu.Unlock()

	n.notify(from, to)
	return ok
}

func (n *ProtectedNotifier) release() {
	n.mu.Lock()
	if n.state == BreakerHalfOpen {
		n.trialBusy = false
	}
	n.mu.Unlock()
}

func (n *ProtectedNotifier) record(err error) {
	n.mu.Lock()
	from := n.state
	n.trialBusy = false

	switch {
	case err == nil:
		n.failures = 0
		n.state = BreakerClosed
	case n.state == BreakerHalfOpen:
		n.state = BreakerOpen
		n.openedAt = n.now()
	default:
		n.failures++
		if n.failures >= n.cfg.FailureThreshold {
			n.state = BreakerOpen
			n.openedAt = n.now()
		}
	}

	to := n.state
	n.mu.Unlock()

	n.notify(from, to)
}

func (n *ProtectedNotifier) notify(from, to BreakerState) {
	if from != to && n.cfg.OnStateChange != nil {
		n.cfg.OnStateChange(from, to)
	}
}

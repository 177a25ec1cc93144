package stream

import (
	"time"
)

// Status is the connection state shown to the user.
type Status string

const (
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	StatusReconnecting Status = "reconnecting"
	StatusClosed       Status = "closed"
)

const (
	DefaultMaxRetries = 10
	DefaultBaseDelay  = time.Second
	DefaultMaxDelay   = 30 * time.Second
)

// Policy bounds the reconnect schedule.
type Policy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = DefaultMaxRetries
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = DefaultMaxDelay
	}
	return p
}

// Delay returns min(BaseDelay * 2^attempt, MaxDelay) for a 0-indexed attempt.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := p.BaseDelay
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= p.MaxDelay || d <= 0 {
			return p.MaxDelay
		}
	}
	if d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}

type eventKind int

const (
	// evConnect is an explicit fresh start: new session or user resume.
	evConnect eventKind = iota
	// evOpened reports a completed handshake.
	evOpened
	// evDropped reports a failed dial, a read error or a peer close.
	evDropped
	// evRetry is the reconnect timer firing.
	evRetry
	// evFrame carries one inbound message; it never changes state.
	evFrame
)

func (k eventKind) String() string {
	switch k {
	case evConnect:
		return "connect"
	case evOpened:
		return "opened"
	case evDropped:
		return "dropped"
	case evRetry:
		return "retry"
	case evFrame:
		return "frame"
	default:
		return "unknown"
	}
}

// step lists the side effects a transition asks for. The transport executes
// them in field order.
type step struct {
	cancelTimer bool
	closeConn   bool
	schedule    time.Duration
	dial        bool
}

// machine is the reconnect state machine. It holds no handles; the
// transport owns the socket and the timer and applies the returned step.
type machine struct {
	status  Status
	retries int
	policy  Policy
}

func newMachine(p Policy) machine {
	return machine{status: StatusConnecting, policy: p.withDefaults()}
}

func (m *machine) apply(ev eventKind) step {
	switch ev {
	case evConnect:
		m.retries = 0
		m.status = StatusConnecting
		return step{cancelTimer: true, closeConn: true, dial: true}

	case evOpened:
		if m.status != StatusConnecting {
			return step{closeConn: true}
		}
		m.retries = 0
		m.status = StatusConnected
		return step{}

	case evDropped:
		if m.status == StatusClosed {
			return step{}
		}
		if m.retries >= m.policy.MaxRetries {
			m.status = StatusClosed
			return step{cancelTimer: true, closeConn: true}
		}
		delay := m.policy.Delay(m.retries)
		m.retries++
		m.status = StatusReconnecting
		return step{cancelTimer: true, closeConn: true, schedule: delay}

	case evRetry:
		if m.status != StatusReconnecting {
			return step{}
		}
		m.status = StatusConnecting
		return step{dial: true}
	}
	return step{}
}

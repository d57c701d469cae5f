// Package async bridges callback-style gateway responses to blocking callers.
package async

import (
	"context"
	"sync"
	"time"
)

// Condition is the terminal observation of one query attempt.
type Condition int

const (
	Initialized Condition = iota
	OnGoing
	Timeout
	Failed
	Succeeded
)

func (c Condition) String() string {
	switch c {
	case Initialized:
		return "initialized"
	case OnGoing:
		return "ongoing"
	case Timeout:
		return "timeout"
	case Failed:
		return "failed"
	case Succeeded:
		return "succeeded"
	default:
		return "unknown"
	}
}

// QueryManager correlates one asynchronous request line with its paired
// completion callback. The caller runs Query, which dispatches the action and
// blocks until Done is called from the callback side or the timeout elapses.
//
// One instance serves one logical request line. Concurrent Query callers on
// the same instance are serialized; a fresh completion channel is armed per
// attempt, so a Done arriving after the waiter gave up is dropped instead of
// releasing the next, unrelated attempt.
type QueryManager struct {
	mu         sync.Mutex // serializes Query callers end to end
	action     func()
	timeout    time.Duration
	retryDelay time.Duration

	sigMu  sync.Mutex
	signal chan bool
	cond   Condition
}

// NewQueryManager builds a manager for one request line. The action must
// trigger exactly one outstanding gateway request per invocation.
func NewQueryManager(action func(), timeout time.Duration) *QueryManager {
	return &QueryManager{action: action, timeout: timeout, cond: Initialized}
}

// SetAction replaces the dispatched action. Not safe while a Query is running.
func (m *QueryManager) SetAction(action func()) { m.action = action }

// SetTimeout replaces the per-attempt timeout.
func (m *QueryManager) SetTimeout(d time.Duration) { m.timeout = d }

// SetRetryDelay inserts a pause between failed attempts.
func (m *QueryManager) SetRetryDelay(d time.Duration) { m.retryDelay = d }

// Condition reports the last observed attempt outcome.
func (m *QueryManager) Condition() Condition {
	m.sigMu.Lock()
	defer m.sigMu.Unlock()
	return m.cond
}

func (m *QueryManager) arm() chan bool {
	ch := make(chan bool, 1)
	m.sigMu.Lock()
	m.signal = ch
	m.cond = OnGoing
	m.sigMu.Unlock()
	return ch
}

func (m *QueryManager) disarm(c Condition) {
	m.sigMu.Lock()
	m.signal = nil
	m.cond = c
	m.sigMu.Unlock()
}

// Query runs up to attempts rounds of dispatch-and-wait and returns the last
// observed condition. It returns early on Succeeded or when ctx is canceled.
func (m *QueryManager) Query(ctx context.Context, attempts int) Condition {
	return m.Run(ctx, m.action, m.timeout, attempts)
}

// Run is Query with a per-call action and timeout, for managers that serialize
// several request kinds over one response line.
func (m *QueryManager) Run(ctx context.Context, action func(), timeout time.Duration, attempts int) Condition {
	m.mu.Lock()
	defer m.mu.Unlock()

	last := m.Condition()
	for i := 0; i < attempts; i++ {
		if i > 0 && m.retryDelay > 0 {
			select {
			case <-time.After(m.retryDelay):
			case <-ctx.Done():
				return last
			}
		}

		ch := m.arm()
		action()

		timer := time.NewTimer(timeout)
		select {
		case ok := <-ch:
			timer.Stop()
			if ok {
				m.disarm(Succeeded)
				return Succeeded
			}
			last = Failed
		case <-timer.C:
			last = Timeout
		case <-ctx.Done():
			timer.Stop()
			m.disarm(last)
			return last
		}
		m.disarm(last)
	}
	return last
}

// Done releases a waiting Query caller. Safe to call from any goroutine at
// any time; when no attempt is armed the signal is dropped.
func (m *QueryManager) Done(success bool) {
	m.sigMu.Lock()
	ch := m.signal
	m.signal = nil
	m.sigMu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- success:
	default:
	}
}

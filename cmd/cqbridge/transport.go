package main

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// ==============================
// Transport supervisor
// ==============================
//
// Transport holds the single mutable session cell and owns the reconnect
// policy. The dispatcher only ever talks to Transport.Send, which snapshots
// the current session; the reconnect loop (Run) is the sole writer of the
// cell, so a reconnect swaps the session atomically from the dispatcher's
// point of view.
//
// There is deliberately no queue: frame sequences offered while the session
// is down are dropped. Replaying a stale toggle after an unknown outage
// could desynchronize the console from the operator's intent.

// dialFunc opens the raw connection; injectable for tests.
type dialFunc func(addr string, timeout time.Duration) (net.Conn, error)

// TransportConfig carries the connection policy knobs.
type TransportConfig struct {
	Addr           string
	ConnectTimeout time.Duration
	ReconnectDelay time.Duration
	Session        SessionConfig
}

// Transport maintains at most one live session to the console.
type Transport struct {
	cfg    TransportConfig
	logger *slog.Logger
	dial   dialFunc

	mu      sync.Mutex
	session *Session

	connecting atomic.Bool

	// notify, when set, observes session state transitions (used by the
	// state hub). Called from the reconnect loop goroutine.
	notify func(SessionState)
}

// NewTransport builds a transport; Run must be started for it to connect.
func NewTransport(cfg TransportConfig, logger *slog.Logger) *Transport {
	return &Transport{
		cfg:    cfg,
		logger: logger,
		dial: func(addr string, timeout time.Duration) (net.Conn, error) {
			return net.DialTimeout("tcp", addr, timeout)
		},
	}
}

// SetNotify registers a session-state observer. Must be called before Run.
func (t *Transport) SetNotify(fn func(SessionState)) { t.notify = fn }

// State reports the current session state.
func (t *Transport) State() SessionState {
	t.mu.Lock()
	sess := t.session
	t.mu.Unlock()
	if sess != nil {
		return sess.State()
	}
	if t.connecting.Load() {
		return SessionConnecting
	}
	return SessionDisconnected
}

// Send transmits one frame sequence on the active session. A send while the
// transport is disconnected or still connecting fails fast with
// SendError{not_connected}; freshness beats completeness for button events.
func (t *Transport) Send(seq FrameSequence) error {
	t.mu.Lock()
	sess := t.session
	t.mu.Unlock()

	if sess == nil {
		return &SendError{Kind: SendNotConnected}
	}
	return sess.Send(seq)
}

// connect performs a single dial attempt and, on success, swaps the new
// session into the cell.
func (t *Transport) connect() (*Session, error) {
	t.connecting.Store(true)
	defer t.connecting.Store(false)

	conn, err := t.dial(t.cfg.Addr, t.cfg.ConnectTimeout)
	if err != nil {
		return nil, classifyConnectError(t.cfg.Addr, err)
	}

	sess := newSession(conn, t.cfg.Session, t.logger)

	t.mu.Lock()
	old := t.session
	t.session = sess
	t.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return sess, nil
}

// clear empties the session cell if it still holds sess.
func (t *Transport) clear(sess *Session) {
	t.mu.Lock()
	if t.session == sess {
		t.session = nil
	}
	t.mu.Unlock()
}

// Run is the reconnect loop. It keeps exactly one connect attempt in flight
// at a time: whenever there is no live session it dials, waits the fixed
// reconnect delay on failure, and on success parks until the session dies or
// ctx is cancelled. Transport errors never escape as process failures.
func (t *Transport) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		sess, err := t.connect()
		if err != nil {
			t.logger.Warn("mixer connection failed",
				"addr", t.cfg.Addr, "error", err, "retry_in", t.cfg.ReconnectDelay)
			if !sleepCtx(ctx, t.cfg.ReconnectDelay) {
				return nil
			}
			continue
		}

		t.logger.Info("connected to mixer", "addr", t.cfg.Addr)
		t.announce(SessionConnected)

		select {
		case <-ctx.Done():
			t.clear(sess)
			_ = sess.Close()
			return nil

		case <-sess.Dead():
			t.clear(sess)
			t.logger.Warn("mixer connection lost", "addr", t.cfg.Addr)
			t.announce(SessionDisconnected)
			if !sleepCtx(ctx, t.cfg.ReconnectDelay) {
				return nil
			}
		}
	}
}

func (t *Transport) announce(state SessionState) {
	if t.notify != nil {
		t.notify(state)
	}
}

// sleepCtx sleeps for d unless ctx is cancelled first. Returns false on
// cancellation.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

package main

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

// ==============================
// Console session
// ==============================
//
// A Session owns exactly one TCP connection to the console. Its lifecycle is
// Disconnected -> Connecting -> Connected -> Disconnected; a dead session is
// never resurrected, reconnection always builds a new one (see transport.go).
//
// Two flows write to the socket: Send (frame sequences from the dispatcher)
// and the keepalive goroutine. Both serialize through writeMu, held for at
// most one frame sequence at a time so the keepalive is never starved for
// longer than a single sequence transmission.

// SessionState is the observable lifecycle state of a session.
type SessionState int32

const (
	SessionDisconnected SessionState = iota
	SessionConnecting
	SessionConnected
)

func (s SessionState) String() string {
	switch s {
	case SessionConnecting:
		return "connecting"
	case SessionConnected:
		return "connected"
	default:
		return "disconnected"
	}
}

// ConnectError classifies a failed connection attempt.
type ConnectError struct {
	Kind ConnectErrorKind
	Addr string
	Err  error
}

type ConnectErrorKind string

const (
	ConnectTimeout     ConnectErrorKind = "timeout"
	ConnectRefused     ConnectErrorKind = "refused"
	ConnectUnreachable ConnectErrorKind = "unreachable"
)

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s: %s: %v", e.Addr, e.Kind, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

// SendError classifies a failed or refused frame transmission.
type SendError struct {
	Kind SendErrorKind
	Err  error
}

type SendErrorKind string

const (
	SendNotConnected SendErrorKind = "not_connected"
	SendWriteFailed  SendErrorKind = "write_failed"
)

func (e *SendError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("send: %s", e.Kind)
	}
	return fmt.Sprintf("send: %s: %v", e.Kind, e.Err)
}

func (e *SendError) Unwrap() error { return e.Err }

// SessionConfig carries the wire timing constants for one session.
type SessionConfig struct {
	FrameGap          time.Duration // pacing between frames within a sequence
	KeepaliveInterval time.Duration
	KeepaliveByte     byte
}

// Session is one live connection to the console.
type Session struct {
	conn   net.Conn
	cfg    SessionConfig
	logger *slog.Logger

	writeMu sync.Mutex
	state   atomic.Int32

	dead     chan struct{}
	deadOnce sync.Once
}

// newSession wraps an established connection and starts its keepalive.
func newSession(conn net.Conn, cfg SessionConfig, logger *slog.Logger) *Session {
	s := &Session{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
		dead:   make(chan struct{}),
	}
	s.state.Store(int32(SessionConnected))
	go s.keepalive()
	return s
}

// State reports the current lifecycle state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// Dead is closed when the session transitions to Disconnected, whether from
// a write failure, a keepalive failure, or Close.
func (s *Session) Dead() <-chan struct{} {
	return s.dead
}

// Send transmits seq frame by frame with the configured pacing. The whole
// sequence is written under writeMu so it never interleaves with another
// sequence or a keepalive pulse.
//
// Any write failure transitions the session to Disconnected and discards the
// socket. Send never retries; recovery belongs to the reconnect loop.
func (s *Session) Send(seq FrameSequence) error {
	if s.State() != SessionConnected {
		return &SendError{Kind: SendNotConnected}
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	// The keepalive may have torn the session down while we waited.
	if s.State() != SessionConnected {
		return &SendError{Kind: SendNotConnected}
	}

	for i, frame := range seq {
		if _, err := s.conn.Write(frame.Data); err != nil {
			s.markDead()
			return &SendError{Kind: SendWriteFailed, Err: err}
		}
		if i == len(seq)-1 {
			break
		}
		gap := frame.Gap
		if gap <= 0 {
			gap = s.cfg.FrameGap
		}
		time.Sleep(gap)
	}
	return nil
}

// Close tears the session down. Safe to call more than once.
func (s *Session) Close() error {
	s.markDead()
	return nil
}

// markDead performs the single Connected -> Disconnected transition.
func (s *Session) markDead() {
	s.deadOnce.Do(func() {
		s.state.Store(int32(SessionDisconnected))
		close(s.dead)
		_ = s.conn.Close()
	})
}

// keepalive writes the liveness byte on a fixed period, independent of send
// traffic. The ticker is never reset by user activity: the console tears the
// session down on silence, not on inactivity of any particular kind.
func (s *Session) keepalive() {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.dead:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			_, err := s.conn.Write([]byte{s.cfg.KeepaliveByte})
			s.writeMu.Unlock()
			if err != nil {
				if s.State() == SessionConnected {
					s.logger.Warn("keepalive write failed", "error", err)
				}
				s.markDead()
				return
			}
		}
	}
}

// classifyConnectError maps a dial failure onto the connect error taxonomy.
func classifyConnectError(addr string, err error) *ConnectError {
	var nerr net.Error
	switch {
	case errors.As(err, &nerr) && nerr.Timeout():
		return &ConnectError{Kind: ConnectTimeout, Addr: addr, Err: err}
	case errors.Is(err, syscall.ECONNREFUSED):
		return &ConnectError{Kind: ConnectRefused, Addr: addr, Err: err}
	default:
		return &ConnectError{Kind: ConnectUnreachable, Addr: addr, Err: err}
	}
}

package ble

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chaz8081/glowctl/internal/ble/protocol"
)

// SessionState is a step of the per-command connection lifecycle.
type SessionState int

const (
	StateIdle SessionState = iota
	StateConnecting
	StateSubscribed
	StateAwaitingReady
	StateAuthenticated
	StateCommandSent
	StateAwaitingResponse
	StateDisconnecting
	StateClosed
	StateFailed
)

var stateNames = [...]string{
	StateIdle:             "idle",
	StateConnecting:       "connecting",
	StateSubscribed:       "subscribed",
	StateAwaitingReady:    "awaiting-ready",
	StateAuthenticated:    "authenticated",
	StateCommandSent:      "command-sent",
	StateAwaitingResponse: "awaiting-response",
	StateDisconnecting:    "disconnecting",
	StateClosed:           "closed",
	StateFailed:           "failed",
}

func (s SessionState) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// SessionOptions configures the bounded waits of a session.
type SessionOptions struct {
	HandshakeTimeout time.Duration // wait for the ready notification
	ResponseTimeout  time.Duration // wait for a state report after a query
}

// DefaultSessionOptions returns the timeouts used by the vendor app.
func DefaultSessionOptions() SessionOptions {
	return SessionOptions{
		HandshakeTimeout: 10 * time.Second,
		ResponseTimeout:  5 * time.Second,
	}
}

// Request is the work done by one session after the handshake.
type Request struct {
	// Action is the body sent once authenticated. Nil stops after the
	// handshake.
	Action []byte
	// AwaitState waits for a state report after Action is written.
	AwaitState bool
}

// Result is what a successful session observed.
type Result struct {
	Token uint64
	State *protocol.StateResponse // set when Request.AwaitState
}

// Session performs a single connect → handshake → command → disconnect
// cycle. A Session is not reusable; create one per operation.
type Session struct {
	adapter Adapter
	mac     string
	conn    Connection // caller-owned; never disconnected by the session
	opts    SessionOptions

	mu          sync.Mutex
	state       SessionState
	transitions []SessionState
}

// NewSession prepares a session against mac. When conn is non-nil it is used
// as-is and left connected afterwards; otherwise the session connects
// through adapter and disconnects on every exit path.
func NewSession(adapter Adapter, mac string, conn Connection, opts SessionOptions) *Session {
	def := DefaultSessionOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}
	if opts.ResponseTimeout <= 0 {
		opts.ResponseTimeout = def.ResponseTimeout
	}
	return &Session{
		adapter:     adapter,
		mac:         mac,
		conn:        conn,
		opts:        opts,
		state:       StateIdle,
		transitions: []SessionState{StateIdle},
	}
}

// State returns the current lifecycle state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transitions returns every state the session has entered, in order.
func (s *Session) Transitions() []SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]SessionState, len(s.transitions))
	copy(out, s.transitions)
	return out
}

func (s *Session) setState(next SessionState) {
	s.mu.Lock()
	s.state = next
	s.transitions = append(s.transitions, next)
	s.mu.Unlock()
	slog.Debug("[BLE] session state", "mac", s.mac, "state", next)
}

// stateReport is a decoded (or undecodable) state notification.
type stateReport struct {
	resp *protocol.StateResponse
	err  error
}

var (
	errWaitTimeout = errors.New("timed out")
	errLinkLost    = errors.New("connection lost")
)

// Run executes the session. Errors are classified with the protocol error
// kinds; the owned connection is released before Run returns.
func (s *Session) Run(ctx context.Context, req Request) (res *Result, err error) {
	if st := s.State(); st != StateIdle {
		return nil, fmt.Errorf("ble: session already in state %s: %w", st, protocol.ErrArgument)
	}

	s.setState(StateConnecting)
	conn, owned, err := s.acquire(ctx)
	if err != nil {
		s.setState(StateFailed)
		return nil, err
	}

	lost := make(chan struct{})
	if owned {
		var once sync.Once
		conn.OnDisconnect(func() { once.Do(func() { close(lost) }) })
	}

	defer func() {
		s.setState(StateDisconnecting)
		if owned {
			if derr := conn.Disconnect(); derr != nil {
				slog.Warn("[BLE] disconnect failed", "mac", s.mac, "error", derr)
			}
		}
		if err != nil {
			s.setState(StateFailed)
			return
		}
		s.setState(StateClosed)
	}()

	readChar, err := conn.DiscoverCharacteristic(ServiceUUID, ReadCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: discover read characteristic: %w: %w", protocol.ErrConnection, err)
	}
	writeChar, err := conn.DiscoverCharacteristic(ServiceUUID, WriteCharUUID)
	if err != nil {
		return nil, fmt.Errorf("ble: discover write characteristic: %w: %w", protocol.ErrConnection, err)
	}

	// Notifications are routed by shape into single-slot channels; extra
	// copies are dropped rather than queued.
	readyCh := make(chan uint64, 1)
	stateCh := make(chan stateReport, 1)
	var (
		decodeMu   sync.Mutex
		lastDecode error // most recent notification that did not parse
	)
	err = readChar.Subscribe(func(data []byte) {
		slog.Debug("[BLE] notification", "mac", s.mac, "hex", hex.EncodeToString(data))
		token, err := protocol.ExtractSessionToken(data)
		if err == nil {
			select {
			case readyCh <- token:
			default:
			}
			return
		}
		if protocol.IsStateResponse(data) {
			resp, err := protocol.ParseStateResponse(data)
			select {
			case stateCh <- stateReport{resp: resp, err: err}:
			default:
			}
			return
		}
		if errors.Is(err, protocol.ErrDecode) {
			slog.Debug("[BLE] malformed notification", "mac", s.mac, "error", err)
			decodeMu.Lock()
			lastDecode = err
			decodeMu.Unlock()
		}
	})
	if err != nil {
		return nil, fmt.Errorf("ble: subscribe to notifications: %w: %w", protocol.ErrConnection, err)
	}
	s.setState(StateSubscribed)

	if err := writeChar.Write(protocol.BuildReconnectPacket()); err != nil {
		return nil, fmt.Errorf("ble: write reconnect packet: %w: %w", protocol.ErrConnection, err)
	}
	s.setState(StateAwaitingReady)

	token, err := await(ctx, readyCh, lost, s.opts.HandshakeTimeout)
	switch {
	case errors.Is(err, errWaitTimeout):
		decodeMu.Lock()
		derr := lastDecode
		decodeMu.Unlock()
		if derr != nil {
			return nil, fmt.Errorf("ble: device did not become ready within %s, last notification was malformed: %w: %w",
				s.opts.HandshakeTimeout, protocol.ErrHandshakeTimeout, derr)
		}
		return nil, fmt.Errorf("ble: device did not become ready within %s: %w", s.opts.HandshakeTimeout, protocol.ErrHandshakeTimeout)
	case err != nil:
		return nil, fmt.Errorf("ble: waiting for ready: %w: %w", protocol.ErrConnection, err)
	}
	s.setState(StateAuthenticated)
	res = &Result{Token: token}

	if req.Action == nil {
		return res, nil
	}

	// Reports pushed before the command are stale.
	select {
	case <-stateCh:
	default:
	}

	packet := protocol.BuildActionPacket(token, req.Action)
	if err := writeChar.Write(packet); err != nil {
		return nil, fmt.Errorf("ble: write action packet: %w: %w", protocol.ErrCommand, err)
	}
	slog.Debug("[BLE] sent action packet", "mac", s.mac, "hex", hex.EncodeToString(packet))
	s.setState(StateCommandSent)

	if !req.AwaitState {
		return res, nil
	}

	s.setState(StateAwaitingResponse)
	report, err := await(ctx, stateCh, lost, s.opts.ResponseTimeout)
	switch {
	case errors.Is(err, errWaitTimeout):
		return nil, fmt.Errorf("ble: no state response within %s: %w", s.opts.ResponseTimeout, protocol.ErrCommand)
	case err != nil:
		return nil, fmt.Errorf("ble: waiting for state response: %w: %w", protocol.ErrCommand, err)
	case report.err != nil:
		return nil, fmt.Errorf("ble: state response: %w", report.err)
	}
	s.setState(StateAuthenticated)
	res.State = report.resp
	return res, nil
}

// acquire returns the connection to use and whether the session owns it.
func (s *Session) acquire(ctx context.Context) (Connection, bool, error) {
	if s.conn != nil {
		return s.conn, false, nil
	}
	if s.adapter == nil {
		return nil, false, fmt.Errorf("ble: no adapter and no connection for %s: %w", s.mac, protocol.ErrConnection)
	}
	conn, err := s.adapter.Connect(ctx, s.mac)
	if err != nil {
		return nil, false, fmt.Errorf("ble: connect to %s: %w: %w", s.mac, protocol.ErrConnection, err)
	}
	slog.Debug("[BLE] connected", "mac", s.mac)
	return conn, true, nil
}

// await blocks for a value on ch, bounded by timeout, ctx and link loss.
func await[T any](ctx context.Context, ch <-chan T, lost <-chan struct{}, timeout time.Duration) (T, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var zero T
	select {
	case v := <-ch:
		return v, nil
	case <-timer.C:
		return zero, errWaitTimeout
	case <-lost:
		return zero, errLinkLost
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Package glow is the public face of a single Casper Glow light. Every
// operation runs one complete BLE session (connect, handshake, command,
// disconnect) and merges what it learned into a cached State that
// registered callbacks observe.
package glow

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/chaz8081/glowctl/internal/ble"
	"github.com/chaz8081/glowctl/internal/ble/protocol"
)

// Glow controls one light. It is safe for concurrent use; operations are
// serialized because the device only tolerates one session at a time.
type Glow struct {
	adapter   ble.Adapter
	conn      ble.Connection // caller-owned, optional
	session   ble.SessionOptions
	queryBody []byte

	devMu  sync.RWMutex
	device ble.Device

	// sem is the operation lock. enabled is guarded by it.
	sem     chan struct{}
	enabled bool

	reg registry
}

// Option customizes a Glow at construction.
type Option func(*Glow)

// WithConnection makes the Glow use an already connected handle. The handle
// is never disconnected by the Glow.
func WithConnection(conn ble.Connection) Option {
	return func(g *Glow) { g.conn = conn }
}

// WithSessionOptions overrides the handshake and response timeouts.
func WithSessionOptions(opts ble.SessionOptions) Option {
	return func(g *Glow) { g.session = opts }
}

// WithQueryBody overrides the action body used by QueryState.
func WithQueryBody(body []byte) Option {
	return func(g *Glow) {
		if len(body) > 0 {
			g.queryBody = slices.Clone(body)
		}
	}
}

// New returns a Glow for device. adapter may be nil when WithConnection is
// given.
func New(adapter ble.Adapter, device ble.Device, opts ...Option) *Glow {
	g := &Glow{
		adapter:   adapter,
		device:    device,
		session:   ble.DefaultSessionOptions(),
		queryBody: slices.Clone(protocol.BodyQueryState),
		sem:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns the advertised name of the bound device.
func (g *Glow) Name() string {
	g.devMu.RLock()
	defer g.devMu.RUnlock()
	return g.device.Name
}

// Address returns the address of the bound device.
func (g *Glow) Address() string {
	g.devMu.RLock()
	defer g.devMu.RUnlock()
	return g.device.MAC
}

// SetBLEDevice rebinds the Glow to dev, e.g. after the host rescanned and
// got a fresher advertisement. Cached state and callbacks are kept.
func (g *Glow) SetBLEDevice(dev ble.Device) {
	g.devMu.Lock()
	defer g.devMu.Unlock()
	g.device = dev
}

// State returns a copy of the cached state.
func (g *Glow) State() State {
	return g.reg.snapshot()
}

// IsOn reports the cached power state; known is false until an operation
// has established it.
func (g *Glow) IsOn() (on, known bool) {
	s := g.reg.snapshot()
	if s.On == nil {
		return false, false
	}
	return *s.On, true
}

// RegisterCallback adds fn to the observers and returns a function that
// removes it again.
func (g *Glow) RegisterCallback(fn Callback) (unregister func()) {
	return g.reg.register(fn)
}

// LastCallbackError returns the failures of the most recent callback run,
// or nil.
func (g *Glow) LastCallbackError() error {
	return g.reg.lastError()
}

func (g *Glow) TurnOn(ctx context.Context) error {
	return g.command(ctx, "turn on", fixedBody(protocol.BodyPowerOn), func(s *State) {
		s.On = ptr(true)
	})
}

func (g *Glow) TurnOff(ctx context.Context) error {
	return g.command(ctx, "turn off", fixedBody(protocol.BodyPowerOff), func(s *State) {
		s.On = ptr(false)
		s.Paused = ptr(false)
	})
}

// Pause freezes the running dimming sequence.
func (g *Glow) Pause(ctx context.Context) error {
	return g.command(ctx, "pause", fixedBody(protocol.BodyPause), func(s *State) {
		s.Paused = ptr(true)
	})
}

// Resume continues a paused dimming sequence.
func (g *Glow) Resume(ctx context.Context) error {
	return g.command(ctx, "resume", fixedBody(protocol.BodyResume), func(s *State) {
		s.Paused = ptr(false)
	})
}

// SetBrightness sets the brightness percentage. The firmware only accepts
// brightness together with a dimming time, so the configured dimming time
// is resent, or the default when none is known.
func (g *Glow) SetBrightness(ctx context.Context, pct int) error {
	if !slices.Contains(protocol.BrightnessLevels, pct) {
		return fmt.Errorf("glow: brightness %d%%, want one of %v: %w", pct, protocol.BrightnessLevels, protocol.ErrArgument)
	}

	var minutes int
	body := func(s State) ([]byte, error) {
		minutes = protocol.DefaultDimmingMinutes
		if s.ConfiguredDimming != nil && slices.Contains(protocol.DimmingMinutes, *s.ConfiguredDimming) {
			minutes = *s.ConfiguredDimming
		}
		return protocol.BuildBrightnessBody(pct, minutes)
	}
	return g.command(ctx, "set brightness", body, func(s *State) {
		s.Brightness = ptr(pct)
		s.ConfiguredDimming = ptr(minutes)
	})
}

// SetDimmingTime sets the length of the dimming sequence. It resends the
// brightness last set with SetBrightness and fails when there is none.
// The remaining time is left to the next QueryState.
func (g *Glow) SetDimmingTime(ctx context.Context, minutes int) error {
	if !slices.Contains(protocol.DimmingMinutes, minutes) {
		return fmt.Errorf("glow: dimming time %d min, want one of %v: %w", minutes, protocol.DimmingMinutes, protocol.ErrArgument)
	}

	body := func(s State) ([]byte, error) {
		if s.Brightness == nil {
			return nil, fmt.Errorf("glow: brightness is unknown, call SetBrightness first: %w", protocol.ErrArgument)
		}
		return protocol.BuildBrightnessBody(*s.Brightness, minutes)
	}
	return g.command(ctx, "set dimming time", body, func(s *State) {
		s.ConfiguredDimming = ptr(minutes)
	})
}

// QueryState asks the device for its state, merges the report into the
// cached state and returns the result.
func (g *Glow) QueryState(ctx context.Context) (State, error) {
	snap, err := g.exclusive(ctx, func() (State, error) {
		res, err := g.run(ctx, ble.Request{Action: g.queryBody, AwaitState: true})
		if err != nil {
			return State{}, fmt.Errorf("glow: query state: %w", err)
		}
		return g.reg.update(func(s *State) { s.applyReport(res.State) }), nil
	})
	if err != nil {
		return State{}, err
	}
	g.reg.flush()
	return snap, nil
}

// Handshake checks that the device is reachable and hands out a token. No
// command is sent and the cached state is untouched.
func (g *Glow) Handshake(ctx context.Context) error {
	_, err := g.exclusive(ctx, func() (State, error) {
		if _, err := g.run(ctx, ble.Request{}); err != nil {
			return State{}, fmt.Errorf("glow: handshake: %w", err)
		}
		return State{}, nil
	})
	return err
}

func fixedBody(b []byte) func(State) ([]byte, error) {
	return func(State) ([]byte, error) { return b, nil }
}

// command builds a body from the cached state, sends it and merges apply
// into the state. Callbacks run after the operation lock is released so
// they may call back into the Glow; the registry keeps their deliveries in
// merge order.
func (g *Glow) command(ctx context.Context, op string, body func(State) ([]byte, error), apply func(*State)) error {
	_, err := g.exclusive(ctx, func() (State, error) {
		b, err := body(g.reg.snapshot())
		if err != nil {
			return State{}, err
		}
		if _, err := g.run(ctx, ble.Request{Action: b}); err != nil {
			return State{}, fmt.Errorf("glow: %s: %w", op, err)
		}
		return g.reg.update(apply), nil
	})
	if err != nil {
		return err
	}
	g.reg.flush()
	return nil
}

// exclusive runs fn while holding the operation lock.
func (g *Glow) exclusive(ctx context.Context, fn func() (State, error)) (State, error) {
	select {
	case g.sem <- struct{}{}:
	case <-ctx.Done():
		return State{}, fmt.Errorf("glow: waiting for device: %w: %w", protocol.ErrConnection, ctx.Err())
	}
	defer func() { <-g.sem }()
	return fn()
}

// run executes one session. Must be called with the operation lock held.
func (g *Glow) run(ctx context.Context, req ble.Request) (*ble.Result, error) {
	if g.conn == nil && g.adapter != nil && !g.enabled {
		if err := g.adapter.Enable(); err != nil {
			return nil, fmt.Errorf("glow: enable adapter: %w: %w", protocol.ErrConnection, err)
		}
		g.enabled = true
	}

	addr := g.Address()
	s := ble.NewSession(g.adapter, addr, g.conn, g.session)
	res, err := s.Run(ctx, req)
	slog.Debug("[BLE] session finished", "mac", addr, "states", s.Transitions(), "error", err)
	return res, err
}

package glow

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/chaz8081/glowctl/internal/ble/protocol"
)

// BatteryLevel is the discrete battery step reported by the device.
type BatteryLevel = protocol.BatteryLevel

// State is the client-side view of a Glow. Nil fields are unknown.
type State struct {
	On                *bool
	Paused            *bool
	DimmingRemaining  *int // minutes, as last reported by the device
	ConfiguredDimming *int // minutes, total length of the dimming sequence
	Battery           *BatteryLevel
	Brightness        *int // percent, only ever set by SetBrightness
	Raw               []byte
}

// Clone returns a deep copy of s.
func (s State) Clone() State {
	return State{
		On:                clonePtr(s.On),
		Paused:            clonePtr(s.Paused),
		DimmingRemaining:  clonePtr(s.DimmingRemaining),
		ConfiguredDimming: clonePtr(s.ConfiguredDimming),
		Battery:           clonePtr(s.Battery),
		Brightness:        clonePtr(s.Brightness),
		Raw:               slices.Clone(s.Raw),
	}
}

func (s State) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "on=%s paused=%s", fmtPtr(s.On, "%t"), fmtPtr(s.Paused, "%t"))
	fmt.Fprintf(&sb, " remaining=%s configured=%s", fmtPtr(s.DimmingRemaining, "%dm"), fmtPtr(s.ConfiguredDimming, "%dm"))
	fmt.Fprintf(&sb, " brightness=%s battery=%s", fmtPtr(s.Brightness, "%d%%"), fmtPtr(s.Battery, "%s"))
	return sb.String()
}

// applyReport merges a decoded state report. Brightness is never reported,
// so it is left alone; the configured dimming time only changes when the
// device reports one.
func (s *State) applyReport(r *protocol.StateResponse) {
	s.On = ptr(r.On)
	s.Paused = ptr(r.Paused)
	s.DimmingRemaining = clonePtr(r.DimmingRemaining)
	s.Battery = clonePtr(r.Battery)
	s.Raw = slices.Clone(r.Raw)
	if r.ConfiguredDimming != nil {
		s.ConfiguredDimming = clonePtr(r.ConfiguredDimming)
	}
}

func ptr[T any](v T) *T { return &v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func fmtPtr[T any](p *T, format string) string {
	if p == nil {
		return "?"
	}
	return fmt.Sprintf(format, *p)
}

// Callback observes the state after every successful state-changing or
// state-querying operation. It receives its own copy.
type Callback func(State)

type callbackEntry struct {
	id int
	fn Callback
}

// registry holds the last known state and the registered callbacks.
type registry struct {
	mu        sync.RWMutex
	state     State
	nextID    int
	callbacks []callbackEntry
	lastErr   error

	// pending holds snapshots not yet delivered, in update order.
	// delivering is set while one goroutine drains it.
	pending    []State
	delivering bool
}

func (r *registry) snapshot() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state.Clone()
}

// update applies fn to the stored state, queues the result for the
// callbacks and returns a copy of it.
func (r *registry) update(fn func(*State)) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(&r.state)
	r.pending = append(r.pending, r.state.Clone())
	return r.state.Clone()
}

// flush delivers queued snapshots in the order they were made. One
// goroutine delivers at a time: a flush that finds delivery under way,
// including one issued from inside a callback, leaves its snapshots to
// the running deliverer.
func (r *registry) flush() {
	r.mu.Lock()
	if r.delivering {
		r.mu.Unlock()
		return
	}
	r.delivering = true
	for len(r.pending) > 0 {
		snap := r.pending[0]
		r.pending = r.pending[1:]
		r.mu.Unlock()
		r.notify(snap)
		r.mu.Lock()
	}
	r.delivering = false
	r.mu.Unlock()
}

func (r *registry) register(fn Callback) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.callbacks = append(r.callbacks, callbackEntry{id: id, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.callbacks = slices.DeleteFunc(r.callbacks, func(e callbackEntry) bool { return e.id == id })
		})
	}
}

// notify runs every callback with snap. A panicking callback is recovered
// and logged; the others still run. The joined failures are returned and
// kept as the last callback error.
func (r *registry) notify(snap State) error {
	r.mu.RLock()
	entries := slices.Clone(r.callbacks)
	r.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		if err := runCallback(e.fn, snap.Clone()); err != nil {
			slog.Error("state callback failed", "callback", e.id, "error", err)
			errs = append(errs, err)
		}
	}
	err := errors.Join(errs...)

	r.mu.Lock()
	r.lastErr = err
	r.mu.Unlock()
	return err
}

func (r *registry) lastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

func runCallback(fn Callback, s State) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("glow: callback panicked: %v", p)
		}
	}()
	fn(s)
	return nil
}

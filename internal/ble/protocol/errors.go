package protocol

import (
	"errors"
	"fmt"
)

// ErrGlow is the root of every error returned by this module. Each kind
// below wraps it, so errors.Is(err, ErrGlow) matches any of them.
var ErrGlow = errors.New("glow")

// Error kinds. Call sites wrap them with fmt.Errorf("...: %w", ErrX).
var (
	// ErrConnection reports a transport connect, subscribe or write failure.
	ErrConnection = fmt.Errorf("%w: connection error", ErrGlow)
	// ErrHandshakeTimeout reports that no ready marker arrived in time.
	// It is also an ErrConnection.
	ErrHandshakeTimeout = fmt.Errorf("%w: handshake timeout", ErrConnection)
	// ErrCommand reports an action write or response wait failure after a
	// successful handshake.
	ErrCommand = fmt.Errorf("%w: command error", ErrGlow)
	// ErrArgument reports an invalid caller-supplied value.
	ErrArgument = fmt.Errorf("%w: invalid argument", ErrGlow)
	// ErrDecode reports malformed or truncated wire bytes.
	ErrDecode = fmt.Errorf("%w: decode error", ErrGlow)
	// ErrProtocol reports well-formed bytes missing an expected marker or field.
	ErrProtocol = fmt.Errorf("%w: protocol error", ErrGlow)
)

package protocol

import (
	"bytes"
	"fmt"
	"slices"
)

// Top-level field numbers of packets exchanged with the device.
const (
	fieldHeader  = 1  // outgoing: constant 1; incoming: session token
	fieldToken   = 2  // outgoing: session token
	fieldAction  = 4  // action body / response body
	fieldReady   = 14 // ready marker in the handshake notification
	fieldSetting = 18 // brightness + dimming composite
	fieldState   = 19 // state report inside fieldAction
)

var (
	reconnectPacket = []byte{0x08, 0x01, 0x22, 0x02, 0x6a, 0x00}
	readyMarker     = []byte{0x08, 0x00}
)

// Action bodies captured from the vendor app.
var (
	BodyPowerOn  = []byte{0x1a, 0x02, 0x08, 0x02}
	BodyPowerOff = []byte{0x1a, 0x02, 0x08, 0x04}
	BodyPause    = []byte{0x1a, 0x02, 0x08, 0x05}
	BodyResume   = []byte{0x1a, 0x02, 0x08, 0x06}
	// BodyQueryState asks for a field 19 state report. Unlike the bodies
	// above it has not been confirmed against a capture; config can
	// override it.
	BodyQueryState = []byte{0x9a, 0x01, 0x00}
)

// BrightnessLevels are the brightness percentages the vendor app offers.
var BrightnessLevels = []int{60, 70, 80, 90, 100}

// DimmingMinutes are the dimming durations the vendor app offers.
var DimmingMinutes = []int{15, 30, 45, 60, 90}

// DefaultDimmingMinutes is sent with a brightness change when no dimming
// duration is known.
const DefaultDimmingMinutes = 15

const msPerMinute = 60_000

// BuildReconnectPacket returns the packet that starts a session. The device
// answers it with a ready notification carrying the session token.
func BuildReconnectPacket() []byte {
	return slices.Clone(reconnectPacket)
}

// BuildActionPacket wraps an action body for the given session token.
//
//	field 1 (varint): 1
//	field 2 (varint): session token
//	field 4 (bytes):  action body
func BuildActionPacket(token uint64, body []byte) []byte {
	buf := make([]byte, 0, 8+len(body))
	buf = appendVarintField(buf, fieldHeader, 1)
	buf = appendVarintField(buf, fieldToken, token)
	return appendBytesField(buf, fieldAction, body)
}

// BuildBrightnessBody encodes the field 18 setting message. The firmware
// only accepts brightness and dimming time together.
//
//	field 18 (bytes):
//	  field 2 (varint): brightness percent
//	  field 3 (varint): dimming time in milliseconds
func BuildBrightnessBody(pct, minutes int) ([]byte, error) {
	if !slices.Contains(BrightnessLevels, pct) {
		return nil, fmt.Errorf("protocol: invalid brightness %d, must be one of %v: %w", pct, BrightnessLevels, ErrArgument)
	}
	if !slices.Contains(DimmingMinutes, minutes) {
		return nil, fmt.Errorf("protocol: invalid dimming time %d, must be one of %v: %w", minutes, DimmingMinutes, ErrArgument)
	}
	var inner []byte
	inner = appendVarintField(inner, 2, uint64(pct))
	inner = appendVarintField(inner, 3, uint64(minutes)*msPerMinute)
	return appendBytesField(nil, fieldSetting, inner), nil
}

// IsReady reports whether b carries the ready marker. Fields after the
// marker are not inspected, so trailing padding is tolerated.
func IsReady(b []byte) bool {
	_, ready, _ := scanReady(b)
	return ready
}

// ExtractSessionToken returns the token carried by a ready notification:
// the first field 1 varint of a notification holding the ready marker.
// A well-formed notification without the marker yields ErrProtocol so
// callers can keep waiting; one that breaks off before marker and token
// were both seen yields ErrDecode.
func ExtractSessionToken(b []byte) (uint64, error) {
	token, ready, err := scanReady(b)
	switch {
	case ready && token != nil:
		return *token, nil
	case err != nil:
		return 0, fmt.Errorf("protocol: ready notification: %w", err)
	case !ready:
		return 0, fmt.Errorf("protocol: ready marker not found: %w", ErrProtocol)
	}
	return 0, fmt.Errorf("protocol: ready notification has no token field: %w", ErrProtocol)
}

// scanReady walks b until it has seen both the ready marker and the first
// field 1 varint. err is the decode fault that stopped the walk early.
func scanReady(b []byte) (token *uint64, ready bool, err error) {
	err = walkFields(b, func(f Field) bool {
		switch {
		case f.Number == fieldHeader && f.Type == WireVarint && token == nil:
			v := f.Varint
			token = &v
		case f.Number == fieldReady && f.Type == WireBytes && bytes.Equal(f.Bytes, readyMarker):
			ready = true
		}
		return !ready || token == nil
	})
	return token, ready, err
}

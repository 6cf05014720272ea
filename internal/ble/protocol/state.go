package protocol

import "fmt"

// BatteryLevel is the discrete battery step reported by the device.
type BatteryLevel uint8

const (
	Battery25  BatteryLevel = 3
	Battery50  BatteryLevel = 4
	Battery75  BatteryLevel = 5
	Battery100 BatteryLevel = 6
)

// ParseBatteryLevel validates a raw battery value.
func ParseBatteryLevel(raw uint64) (BatteryLevel, error) {
	if raw < uint64(Battery25) || raw > uint64(Battery100) {
		return 0, fmt.Errorf("protocol: battery level %d out of range: %w", raw, ErrDecode)
	}
	return BatteryLevel(raw), nil
}

// Percent returns the approximate charge the level stands for.
func (b BatteryLevel) Percent() int {
	switch b {
	case Battery25:
		return 25
	case Battery50:
		return 50
	case Battery75:
		return 75
	case Battery100:
		return 100
	}
	return 0
}

func (b BatteryLevel) String() string {
	return fmt.Sprintf("%d%%", b.Percent())
}

// Sub-fields of the field 19 state report.
const (
	stateFieldPower      = 1 // 1 = on, 3 = off
	stateFieldRemaining  = 2 // remaining dimming time, ms
	stateFieldConfigured = 3 // configured dimming time, ms; 0 when off
	stateFieldPaused     = 4
	stateFieldBattery    = 7 // nested; inner field 2 is the level
	// Sub-field 8 is always 100 in captures. It is not the battery.

	batteryInnerLevel = 2 // inner field 1 is a device constant
	powerOn           = 1
)

// StateResponse is the decoded content of a state report. Brightness is
// never reported by the device. Optional values are nil when absent.
type StateResponse struct {
	On                bool
	Paused            bool
	DimmingRemaining  *int // minutes
	ConfiguredDimming *int // minutes, only when the device reports non-zero
	Battery           *BatteryLevel
	Raw               []byte
}

// IsStateResponse reports whether b carries a field 19 state report.
func IsStateResponse(b []byte) bool {
	_, err := stateFields(b)
	return err == nil
}

func stateFields(b []byte) ([]Field, error) {
	top, err := ParseFields(b)
	if err != nil {
		return nil, err
	}
	body, ok := FirstBytes(top, fieldAction)
	if !ok {
		return nil, fmt.Errorf("protocol: notification has no response body: %w", ErrProtocol)
	}
	inner, err := ParseFields(body)
	if err != nil {
		return nil, fmt.Errorf("protocol: response body: %w", err)
	}
	report, ok := FirstBytes(inner, fieldState)
	if !ok {
		return nil, fmt.Errorf("protocol: response body has no state report: %w", ErrProtocol)
	}
	fields, err := ParseFields(report)
	if err != nil {
		return nil, fmt.Errorf("protocol: state report: %w", err)
	}
	return fields, nil
}

// ParseStateResponse decodes a state report notification.
func ParseStateResponse(b []byte) (*StateResponse, error) {
	fields, err := stateFields(b)
	if err != nil {
		return nil, err
	}
	resp := &StateResponse{Raw: append([]byte(nil), b...)}

	if v, ok := FirstVarint(fields, stateFieldPower); ok {
		resp.On = v == powerOn
	}
	if v, ok := FirstVarint(fields, stateFieldPaused); ok {
		resp.Paused = v != 0
	}
	if v, ok := FirstVarint(fields, stateFieldRemaining); ok {
		m := int(v / msPerMinute)
		resp.DimmingRemaining = &m
	}
	if !resp.On {
		zero := 0
		resp.DimmingRemaining = &zero
		resp.Paused = false
	}
	if v, ok := FirstVarint(fields, stateFieldConfigured); ok && v > 0 {
		m := int(v / msPerMinute)
		resp.ConfiguredDimming = &m
	}
	if raw, ok := FirstBytes(fields, stateFieldBattery); ok {
		inner, err := ParseFields(raw)
		if err != nil {
			return nil, fmt.Errorf("protocol: battery field: %w", err)
		}
		if v, ok := FirstVarint(inner, batteryInnerLevel); ok {
			level, err := ParseBatteryLevel(v)
			if err != nil {
				return nil, err
			}
			resp.Battery = &level
		}
	}
	return resp, nil
}

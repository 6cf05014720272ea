package ble

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// IsCasperGlow reports whether an advertisement looks like a Glow light:
// either it advertises the Glow service or its name starts with "Jar".
func IsCasperGlow(dev Device) bool {
	for _, u := range dev.ServiceUUIDs {
		if strings.EqualFold(u, ServiceUUID) {
			return true
		}
	}
	return strings.HasPrefix(dev.Name, DeviceNamePrefix)
}

// DiscoverGlows scans for timeout and returns the peripherals that look
// like Glow lights. Intended for standalone tools; hosts that run their
// own scanner should call IsCasperGlow on their results instead.
func DiscoverGlows(ctx context.Context, adapter Adapter, timeout time.Duration) ([]Device, error) {
	if err := adapter.Enable(); err != nil {
		return nil, fmt.Errorf("ble: enable adapter: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	seen, err := adapter.Scan(ctx, []string{ServiceUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}

	var found []Device
	for _, dev := range seen {
		if IsCasperGlow(dev) {
			found = append(found, dev)
		}
	}
	return found, nil
}

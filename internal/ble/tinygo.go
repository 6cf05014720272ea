package ble

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"tinygo.org/x/bluetooth"
)

// TinygoAdapter implements Adapter with tinygo-org/bluetooth (BlueZ on
// Linux, CoreBluetooth on macOS, WinRT on Windows). On macOS the "MAC" is
// the CoreBluetooth peripheral UUID.
type TinygoAdapter struct {
	adapter *bluetooth.Adapter

	// mu protects the connections map.
	mu          sync.Mutex
	connections map[string]*tinygoConnection // keyed by address string
}

// NewTinygoAdapter creates a new BLE adapter on the system default radio.
func NewTinygoAdapter() *TinygoAdapter {
	return &TinygoAdapter{
		adapter:     bluetooth.DefaultAdapter,
		connections: make(map[string]*tinygoConnection),
	}
}

func (a *TinygoAdapter) Enable() error {
	if err := a.adapter.Enable(); err != nil {
		return err
	}

	// tinygo reports peripheral disconnects at adapter level only.
	a.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		if connected {
			return
		}
		id := strings.ToUpper(device.Address.String())
		a.mu.Lock()
		conn, ok := a.connections[id]
		delete(a.connections, id)
		a.mu.Unlock()
		if ok {
			conn.fireDisconnect()
		}
	})

	return nil
}

func (a *TinygoAdapter) Scan(ctx context.Context, serviceUUIDs []string) ([]Device, error) {
	uuids := make([]bluetooth.UUID, 0, len(serviceUUIDs))
	for _, s := range serviceUUIDs {
		u, err := bluetooth.ParseUUID(s)
		if err != nil {
			return nil, fmt.Errorf("ble: parse service UUID %q: %w", s, err)
		}
		uuids = append(uuids, u)
	}

	var mu sync.Mutex
	var devices []Device
	seen := make(map[string]int) // address -> index in devices

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			a.adapter.StopScan()
		case <-done:
		}
	}()

	err := a.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
		mac := result.Address.String()
		mu.Lock()
		defer mu.Unlock()
		i, ok := seen[mac]
		if !ok {
			i = len(devices)
			seen[mac] = i
			devices = append(devices, Device{MAC: mac, RSSI: int(result.RSSI)})
		}
		mergeAdvertisement(&devices[i], result.LocalName(), serviceUUIDs, func(j int) bool {
			return result.HasServiceUUID(uuids[j])
		})
	})
	close(done)

	if err != nil && ctx.Err() == nil {
		return nil, fmt.Errorf("ble: scan: %w", err)
	}
	return devices, nil
}

// mergeAdvertisement folds one advertisement or scan response into dev.
// The name often only arrives in the scan response, so a later non-empty
// name fills in a missing one. hasUUID reports whether the packet lists
// serviceUUIDs[j].
func mergeAdvertisement(dev *Device, name string, serviceUUIDs []string, hasUUID func(j int) bool) {
	if dev.Name == "" && name != "" {
		dev.Name = name
	}
	for j, u := range serviceUUIDs {
		if hasUUID(j) && !slices.Contains(dev.ServiceUUIDs, u) {
			dev.ServiceUUIDs = append(dev.ServiceUUIDs, u)
		}
	}
}

func (a *TinygoAdapter) Connect(ctx context.Context, mac string) (Connection, error) {
	var addr bluetooth.Address
	addr.Set(mac)

	// tinygo's Connect blocks with its own timeout; wrap it so ctx is honoured.
	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	ch := make(chan connectResult, 1)
	go func() {
		device, err := a.adapter.Connect(addr, bluetooth.ConnectionParams{})
		ch <- connectResult{device, err}
	}()

	select {
	case <-ctx.Done():
		// A late success is torn down so the link is not leaked.
		go func() {
			if res := <-ch; res.err == nil {
				_ = res.device.Disconnect()
			}
		}()
		return nil, fmt.Errorf("ble: connect to %s: %w", mac, ctx.Err())
	case result := <-ch:
		if result.err != nil {
			return nil, fmt.Errorf("ble: connect to %s: %w", mac, result.err)
		}
		id := strings.ToUpper(mac)
		conn := &tinygoConnection{device: &result.device}
		conn.forget = func() { a.forget(id, conn) }

		a.mu.Lock()
		a.connections[id] = conn
		a.mu.Unlock()

		return conn, nil
	}
}

// forget drops conn from the disconnect routing table unless a newer
// connection to the same address has replaced it.
func (a *TinygoAdapter) forget(id string, conn *tinygoConnection) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connections[id] == conn {
		delete(a.connections, id)
	}
}

// Compile-time check that TinygoAdapter implements Adapter.
var _ Adapter = (*TinygoAdapter)(nil)

type tinygoConnection struct {
	device *bluetooth.Device
	forget func()

	mu           sync.Mutex
	disconnectCb func()
}

func (c *tinygoConnection) DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error) {
	svcUUID, err := bluetooth.ParseUUID(serviceUUID)
	if err != nil {
		return nil, err
	}
	charUUIDParsed, err := bluetooth.ParseUUID(charUUID)
	if err != nil {
		return nil, err
	}

	svcs, err := c.device.DiscoverServices([]bluetooth.UUID{svcUUID})
	if err != nil {
		return nil, fmt.Errorf("ble: discover services: %w", err)
	}
	if len(svcs) == 0 {
		return nil, fmt.Errorf("ble: service %s not found", serviceUUID)
	}

	chars, err := svcs[0].DiscoverCharacteristics([]bluetooth.UUID{charUUIDParsed})
	if err != nil {
		return nil, fmt.Errorf("ble: discover characteristics: %w", err)
	}
	if len(chars) == 0 {
		return nil, fmt.Errorf("ble: characteristic %s not found", charUUID)
	}

	return &tinygoCharacteristic{char: &chars[0]}, nil
}

func (c *tinygoConnection) Disconnect() error {
	if c.forget != nil {
		c.forget()
	}
	return c.device.Disconnect()
}

func (c *tinygoConnection) OnDisconnect(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.disconnectCb = cb
}

func (c *tinygoConnection) fireDisconnect() {
	c.mu.Lock()
	cb := c.disconnectCb
	c.mu.Unlock()
	if cb != nil {
		cb()
	}
}

type tinygoCharacteristic struct {
	char *bluetooth.DeviceCharacteristic
}

func (c *tinygoCharacteristic) Write(data []byte) error {
	// Linux BlueZ through tinygo only supports write-without-response.
	_, err := c.char.WriteWithoutResponse(data)
	return err
}

func (c *tinygoCharacteristic) Subscribe(cb func([]byte)) error {
	return c.char.EnableNotifications(func(buf []byte) {
		// The stack may reuse buf after the callback returns.
		cb(append([]byte(nil), buf...))
	})
}

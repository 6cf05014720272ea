// Package ble talks to Casper Glow lights over Bluetooth Low Energy. It
// defines the transport contract the rest of the module depends on, a
// tinygo-backed implementation of it, device discovery, and the
// per-command session that performs the token handshake.
package ble

import "context"

// Casper Glow GATT UUIDs
const (
	ServiceUUID   = "9bb30001-fee9-4c24-8361-443b5b7c88f6"
	WriteCharUUID = "9bb30002-fee9-4c24-8361-443b5b7c88f6"
	ReadCharUUID  = "9bb30003-fee9-4c24-8361-443b5b7c88f6"
)

// DeviceNamePrefix is the advertised local name prefix of Glow lights.
const DeviceNamePrefix = "Jar"

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data to the characteristic.
	Write(data []byte) error
	// Subscribe registers a callback for notifications on this characteristic.
	// A later call replaces the previous callback.
	Subscribe(callback func(data []byte)) error
}

// Device represents a discovered BLE peripheral.
type Device struct {
	Name string
	MAC  string
	RSSI int
	// ServiceUUIDs lists which of the UUIDs passed to Scan the peripheral
	// advertised.
	ServiceUUIDs []string
}

// Connection represents an active BLE connection to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the connection.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the connection drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE hardware adapter for testing.
type Adapter interface {
	// Enable powers on the BLE adapter.
	Enable() error
	// Scan reports every peripheral seen until ctx is done, recording which
	// of serviceUUIDs each one advertised.
	Scan(ctx context.Context, serviceUUIDs []string) ([]Device, error)
	// Connect establishes a connection to the device with the given MAC address.
	Connect(ctx context.Context, mac string) (Connection, error)
}

// Package ble abstracts the Bluetooth LE transport used to reach the
// Buddha device: scanning, connecting, characteristic I/O, and
// notifications. The hardware backend is tinygo.org/x/bluetooth; the
// interfaces here exist so the driver can be tested against a mock
// adapter.
package ble

import "context"

// Advertisement is one observed BLE advertisement.
type Advertisement struct {
	LocalName string
	Address   string
	RSSI      int
}

// Characteristic is a single GATT characteristic on a connected device.
type Characteristic interface {
	// Read issues a characteristic read and returns the raw payload.
	Read() ([]byte, error)
	// WriteWithoutResponse writes the payload without waiting for a
	// device-side acknowledgment.
	WriteWithoutResponse(data []byte) error
	// Subscribe arms notifications and registers the callback invoked
	// with each notified payload.
	Subscribe(callback func(data []byte)) error
}

// Connection is an active link to a peripheral.
type Connection interface {
	// DiscoverCharacteristic finds a characteristic by UUID within a service.
	DiscoverCharacteristic(serviceUUID, charUUID string) (Characteristic, error)
	// Disconnect terminates the link.
	Disconnect() error
	// OnDisconnect registers a callback invoked when the link drops.
	OnDisconnect(callback func())
}

// Adapter abstracts the BLE radio.
type Adapter interface {
	// Enable powers on the adapter. It is idempotent; enabling an
	// already-enabled adapter is a no-op.
	Enable() error
	// PoweredOn reports whether the radio is powered and usable. It is
	// a pure state query and issues no I/O.
	PoweredOn() bool
	// Scan runs an advertisement scan without duplicate filtering,
	// invoking found for each advertisement. Scanning stops when found
	// returns true or ctx is done; the scan is always stopped before
	// Scan returns.
	Scan(ctx context.Context, found func(Advertisement) bool) error
	// Connect establishes a connection to the peripheral at address.
	Connect(ctx context.Context, address string) (Connection, error)
}

// Package ble carries link channels over Bluetooth Low Energy. The peripheral
// exposes a serial-style GATT service: the central writes to one
// characteristic and receives notifications on another.
package ble

import "context"

// Nordic UART Service UUIDs, the common BLE serial profile.
const (
	ServiceUUID = "6e400001-b5a3-f393-e0a9-e50e24dcca9e"
	TXCharUUID  = "6e400002-b5a3-f393-e0a9-e50e24dcca9e" // central writes
	RXCharUUID  = "6e400003-b5a3-f393-e0a9-e50e24dcca9e" // peripheral notifies
)

// Generic Access service and its Device Name characteristic.
const (
	GenericAccessUUID = "00001800-0000-1000-8000-00805f9b34fb"
	DeviceNameUUID    = "00002a00-0000-1000-8000-00805f9b34fb"
)

// attHeaderSize is the ATT opcode and handle overhead of a write; the usable
// payload is the ATT MTU minus this.
const attHeaderSize = 3

// Characteristic represents a BLE GATT characteristic.
type Characteristic interface {
	// Write sends data and returns once the peripheral acknowledged it.
	Write(data []byte) error
	// Read reads the characteristic value into p.
	Read(p []byte) (int, error)
	// Subscribe registers a callback for notifications on this characteristic.
	Subscribe(callback func(data []byte)) error
	// MTU returns the negotiated ATT MTU of the underlying connection.
	MTU() (int, error)
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
	// Connect establishes a connection to the device with the given address.
	Connect(ctx context.Context, address string) (Connection, error)
}

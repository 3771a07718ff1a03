package protocol

import (
	"errors"
	"fmt"
	"log/slog"
)

// Identity errors.
var (
	ErrDeviceNameRequired = errors.New("protocol: device name required")
	ErrDeviceKeyRequired  = errors.New("protocol: device key required")
)

// DeviceIdentity is the intweb device name and its shared key.
//
// The value is immutable: the key is copied on construction and only ever
// handed to a checksum engine. Printing or logging a DeviceIdentity never
// reveals the key.
type DeviceIdentity struct {
	name   string
	secret []byte
}

// NewDeviceIdentity returns the identity for device name with key secret.
func NewDeviceIdentity(name string, secret []byte) (DeviceIdentity, error) {
	if name == "" {
		return DeviceIdentity{}, ErrDeviceNameRequired
	}
	if len(secret) == 0 {
		return DeviceIdentity{}, ErrDeviceKeyRequired
	}
	return DeviceIdentity{
		name:   name,
		secret: append([]byte(nil), secret...),
	}, nil
}

// Name returns the device name sent in every envelope.
func (d DeviceIdentity) Name() string {
	return d.name
}

// IsZero reports whether d was never initialized.
func (d DeviceIdentity) IsZero() bool {
	return d.name == "" && len(d.secret) == 0
}

// String implements fmt.Stringer without the key.
func (d DeviceIdentity) String() string {
	return fmt.Sprintf("DeviceIdentity{name: %q, key: [REDACTED]}", d.name)
}

// GoString keeps %#v from dumping the key.
func (d DeviceIdentity) GoString() string {
	return d.String()
}

// LogValue implements slog.LogValuer.
func (d DeviceIdentity) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("name", d.name),
		slog.String("key", "[REDACTED]"),
	)
}

package device

import (
	"errors"
	"fmt"

	"github.com/halcyonmed/buddhactl/internal/protocol"
)

var (
	// ErrNotConnected is returned by any field operation without a
	// connected session.
	ErrNotConnected = errors.New("device: not connected")
	// ErrAdapterNotReady is returned when the radio does not power on
	// within the configured wait budget.
	ErrAdapterNotReady = errors.New("device: bluetooth adapter not powered on")
	// ErrScanTimeout is returned when no matching advertisement is seen
	// before the scan deadline.
	ErrScanTimeout = errors.New("device: no matching device found before the scan deadline")
)

// DeviceError wraps a transport-level failure. The underlying error is
// surfaced unmodified; no retries happen at this layer.
type DeviceError struct {
	Op    string
	Field protocol.FieldName
	Err   error
}

func (e *DeviceError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("device: %s %s: %v", e.Op, e.Field, e.Err)
	}
	return fmt.Sprintf("device: %s: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

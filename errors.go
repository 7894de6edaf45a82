package qflash

import (
	"errors"
	"fmt"
)

var (
	// ErrTimeout indicates that the controller or the flash device did not
	// reach the expected state within the wait budget.
	ErrTimeout = errors.New("qflash: timed out")

	// ErrBusy indicates that the device handle is already held by another
	// client.
	ErrBusy = errors.New("qflash: device busy")

	// ErrNoSpace indicates a write starting at or beyond the end of the
	// flash memory.
	ErrNoSpace = errors.New("qflash: no space on flash")
)

// ProtocolError indicates a FIFO underrun, overrun, or byte-count mismatch.
// It points at a logic bug or desynchronized controller state and aborts the
// current operation.
type ProtocolError struct {
	Op     string
	Reason string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: protocol error: %s", e.Op, e.Reason)
}

// DeviceError indicates that the controller reported one or more error
// status bits during a transaction. The session remains usable; only the
// in-flight operation is lost.
type DeviceError struct {
	Op     string
	Status uint32
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s: controller error status 0x%x", e.Op, e.Status)
}

// UnsupportedDeviceError indicates an unrecognized flash vendor or density
// code at identification time. It is fatal to session construction.
type UnsupportedDeviceError struct {
	Manufacturer byte
	Density      byte
}

func (e *UnsupportedDeviceError) Error() string {
	return fmt.Sprintf("unsupported flash device: manufacturer 0x%02X, density 0x%02X",
		e.Manufacturer, e.Density)
}

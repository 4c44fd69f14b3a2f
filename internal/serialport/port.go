// Package serialport provides the transport abstraction for the gauge's
// RS-232 connection, plus a configurable in-memory port for tests.
package serialport

import (
	"io"
	"time"
)

// Porter defines the minimal interface needed for a serial port.
// This abstraction enables unit testing without real serial hardware.
type Porter interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPorter extends Porter with timeout capabilities.
// This is an optional interface that serial ports may implement.
type TimeoutPorter interface {
	Porter
	// SetReadTimeout sets the read timeout for the serial port.
	SetReadTimeout(timeout time.Duration) error
}

// Factory defines an interface for creating serial ports.
// This abstraction enables dependency injection of serial port creation.
type Factory interface {
	// Open opens a serial port at the specified path with the given options.
	Open(path string, opts Options) (Porter, error)
}

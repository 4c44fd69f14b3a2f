package serialport

import (
	"time"

	"go.bug.st/serial"
)

// RealFactory opens real serial ports via go.bug.st/serial. A ReadTimeout of
// zero leaves the port in blocking mode.
type RealFactory struct {
	ReadTimeout time.Duration
}

// Open opens a serial port at the given path using the provided options.
func (f RealFactory) Open(path string, opts Options) (Porter, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}

	if f.ReadTimeout > 0 {
		if err := port.SetReadTimeout(f.ReadTimeout); err != nil {
			port.Close()
			return nil, err
		}
	}

	return port, nil
}

// List returns the device paths of the serial ports present on the system.
func List() ([]string, error) {
	return serial.GetPortsList()
}

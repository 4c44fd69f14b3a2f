package quantum

// Measurement is one paired pressure/temperature reading. Pressure is in the
// device's current unit; temperature is in degrees Celsius.
type Measurement struct {
	Pressure    float64 `json:"pressure"`
	Temperature float64 `json:"temperature"`
}

// Device is the capability contract shared by the RS-232 adapter and the
// simulator. All read/query/command operations require a prior successful
// Connect and fail with ErrNotConnected otherwise.
type Device interface {
	// Connect opens the transport (real) or starts the logical clock
	// (simulated). It fails with ErrConnectFailed if the transport cannot
	// be opened.
	Connect() error

	// Disconnect releases the transport. It never fails: a transport that
	// is already gone is treated as already disconnected.
	Disconnect()

	// IsConnected reports whether Connect has succeeded without a
	// subsequent Disconnect.
	IsConnected() bool

	// ReadPressure issues a "P?" query and returns the parsed value in the
	// device's current unit.
	ReadPressure() (float64, error)

	// ReadTemperature issues a "T?" query and returns degrees Celsius.
	ReadTemperature() (float64, error)

	// Query reads pressure then temperature, failing on the first error.
	Query() (Measurement, error)

	// GetPressureUnit queries "U?P" and returns the unit token uppercased.
	GetPressureUnit() (string, error)

	// SetPressureUnit switches the device to the given unit using a
	// verify-after-write sequence. It is a no-op when the device already
	// reports the target unit.
	SetPressureUnit(unit string) error

	// SendCommand writes a raw, pre-formatted command and returns the raw
	// response line. Escape hatch for diagnostics.
	SendCommand(raw string) (string, error)
}

package quantum

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/vaclab-data/pressure.report/internal/monitoring"
	"github.com/vaclab-data/pressure.report/internal/serialport"
	"github.com/vaclab-data/pressure.report/internal/timeutil"
	"github.com/vaclab-data/pressure.report/internal/units"
)

const (
	// DefaultAddress is the factory-default RS-485 device address.
	DefaultAddress = 253

	// DefaultReadTimeout bounds how long a query waits for a reply.
	DefaultReadTimeout = 1 * time.Second

	// DefaultPollDelay is the pause between writing a command and reading
	// its response.
	DefaultPollDelay = 50 * time.Millisecond

	// settleMultiplier scales the poll delay into the settling pause after
	// a unit-change write. Some firmware echoes a stale pressure line
	// before applying the change, so this must be generous.
	settleMultiplier = 5

	// drainLines is how many residual lines are discarded after a
	// unit-change write before the verifying read-back.
	drainLines = 2
)

// RS232Config carries the transport parameters for a real gauge connection.
// Zero values select the gauge factory defaults.
type RS232Config struct {
	Path        string
	Options     serialport.Options
	Address     int
	ReadTimeout time.Duration
	PollDelay   time.Duration
}

// RS232Device drives a Quantum DPP gauge over a half-duplex serial line.
// A single mutex serializes every write-then-read pair so interleaved calls
// can never interleave bytes on the wire.
type RS232Device struct {
	cfg     RS232Config
	factory serialport.Factory
	clock   timeutil.Clock

	mu   sync.Mutex
	port serialport.Porter
}

// NewRS232Device creates an adapter for the gauge at cfg.Path. A nil factory
// opens real ports; a nil clock uses the system clock.
func NewRS232Device(cfg RS232Config, factory serialport.Factory, clock timeutil.Clock) *RS232Device {
	if cfg.Address == 0 {
		cfg.Address = DefaultAddress
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.PollDelay == 0 {
		cfg.PollDelay = DefaultPollDelay
	}
	if factory == nil {
		factory = serialport.RealFactory{ReadTimeout: cfg.ReadTimeout}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &RS232Device{
		cfg:     cfg,
		factory: factory,
		clock:   clock,
	}
}

// Path returns the transport identifier the adapter was configured with.
func (d *RS232Device) Path() string {
	return d.cfg.Path
}

// Connect opens the serial port.
func (d *RS232Device) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port != nil {
		return nil
	}

	port, err := d.factory.Open(d.cfg.Path, d.cfg.Options)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrConnectFailed, d.cfg.Path, err)
	}
	d.port = port
	return nil
}

// Disconnect closes the serial port. Teardown must always succeed: a close
// error (for example when the device was physically removed) is logged and
// swallowed.
func (d *RS232Device) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return
	}
	if err := d.port.Close(); err != nil {
		monitoring.Logf("quantum: close %s: %v (treating as disconnected)", d.cfg.Path, err)
	}
	d.port = nil
}

// IsConnected reports whether the serial port is open.
func (d *RS232Device) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.port != nil
}

// roundTrip formats and writes one command, pauses for the firmware's poll
// delay, and reads the raw response line. The adapter mutex is held for the
// whole exchange.
func (d *RS232Device) roundTrip(payload string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exchangeLocked(Format(d.cfg.Address, payload))
}

// exchangeLocked writes raw bytes and reads one line. Callers must hold d.mu.
func (d *RS232Device) exchangeLocked(raw string) (string, error) {
	if d.port == nil {
		return "", fmt.Errorf("%w: %s", ErrNotConnected, d.cfg.Path)
	}

	if _, err := d.port.Write([]byte(raw)); err != nil {
		return "", fmt.Errorf("write %s: %w", d.cfg.Path, err)
	}
	d.clock.Sleep(d.cfg.PollDelay)
	return d.readLineLocked()
}

// maxLineLength bounds a response line so a babbling transport cannot wedge
// the reader.
const maxLineLength = 512

// readLineLocked accumulates bytes until a newline arrives or the port's
// read timeout expires (signalled by a zero-byte read). Responses are a few
// dozen bytes at most, so single-byte reads keep the framing exact without
// costing anything at serial line rates. Callers must hold d.mu.
func (d *RS232Device) readLineLocked() (string, error) {
	var sb strings.Builder
	buf := make([]byte, 1)

	for sb.Len() < maxLineLength {
		n, err := d.port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("read %s: %w", d.cfg.Path, err)
		}
		if n == 0 {
			break // read timeout expired with no further data
		}
		sb.WriteByte(buf[0])
		if buf[0] == '\n' {
			break
		}
	}

	line := strings.TrimSpace(sb.String())
	if line == "" {
		return "", fmt.Errorf("%w: %s", ErrNoResponse, d.cfg.Path)
	}
	return line, nil
}

// queryNumeric sends "<mnemonic>?" and parses the ACK<value> reply.
func (d *RS232Device) queryNumeric(mnemonic string) (float64, error) {
	line, err := d.roundTrip(mnemonic + "?")
	if err != nil {
		return 0, err
	}
	return ParseAckFloat(UnwrapResponse(line))
}

// ReadPressure returns the current pressure in the device's active unit.
func (d *RS232Device) ReadPressure() (float64, error) {
	return d.queryNumeric("P")
}

// ReadTemperature returns the board temperature in degrees Celsius.
func (d *RS232Device) ReadTemperature() (float64, error) {
	return d.queryNumeric("T")
}

// Query reads pressure then temperature, failing on the first error.
func (d *RS232Device) Query() (Measurement, error) {
	pressure, err := d.ReadPressure()
	if err != nil {
		return Measurement{}, err
	}
	temperature, err := d.ReadTemperature()
	if err != nil {
		return Measurement{}, err
	}
	return Measurement{Pressure: pressure, Temperature: temperature}, nil
}

// GetPressureUnit queries the active pressure unit.
func (d *RS232Device) GetPressureUnit() (string, error) {
	line, err := d.roundTrip("U?P")
	if err != nil {
		return "", err
	}
	token, err := ParseAck(UnwrapResponse(line), AckTag)
	if err != nil {
		return "", err
	}
	return units.Normalize(token), nil
}

// SetPressureUnit switches the gauge's pressure unit to the given token.
//
// Firmware acknowledgment semantics for unit changes are unreliable, so the
// only trustworthy signal is a read-back: write the change, wait for the
// firmware to settle, discard any residual lines, then re-query the unit.
// A failed pre-check query is tolerated (it means "can't verify", not
// "definitely wrong") and the write proceeds anyway.
func (d *RS232Device) SetPressureUnit(unit string) error {
	unit = units.Normalize(unit)
	if !units.IsValid(unit) {
		return fmt.Errorf("invalid pressure unit %q: valid units are %s", unit, units.GetValidUnitsString())
	}

	if current, err := d.GetPressureUnit(); err == nil && current == unit {
		return nil // already there; skip the disruptive firmware write
	}

	if err := d.writeUnitChange(unit); err != nil {
		return err
	}

	verified, err := d.GetPressureUnit()
	if err != nil {
		return fmt.Errorf("%w: %s on %s: verify query: %v", ErrUnitSwitchFailed, unit, d.cfg.Path, err)
	}
	if verified != unit {
		return fmt.Errorf("%w: %s on %s: device reports %s", ErrUnitSwitchFailed, unit, d.cfg.Path, verified)
	}
	return nil
}

// writeUnitChange issues the U!P write, waits out the settling delay, and
// drains whatever the firmware emits before the verify query (an ACK,
// nothing, or an echoed stale reading).
func (d *RS232Device) writeUnitChange(unit string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.port == nil {
		return fmt.Errorf("%w: %s", ErrNotConnected, d.cfg.Path)
	}

	raw := Format(d.cfg.Address, fmt.Sprintf("U!P,%s", unit))
	if _, err := d.port.Write([]byte(raw)); err != nil {
		return fmt.Errorf("write %s: %w", d.cfg.Path, err)
	}

	d.clock.Sleep(settleMultiplier * d.cfg.PollDelay)

	for i := 0; i < drainLines; i++ {
		if _, err := d.readLineLocked(); err != nil {
			break // nothing more buffered
		}
	}
	return nil
}

// SendCommand writes a raw, pre-formatted command and returns the raw
// response line. The terminator is appended if missing.
func (d *RS232Device) SendCommand(raw string) (string, error) {
	if !strings.HasSuffix(raw, Terminator) {
		raw += Terminator
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exchangeLocked(raw)
}

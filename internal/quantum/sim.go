package quantum

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/vaclab-data/pressure.report/internal/timeutil"
	"github.com/vaclab-data/pressure.report/internal/units"
)

// SimConfig tunes the simulator. Zero values select a plausible pump-down
// from 0.1 mbar at room temperature.
type SimConfig struct {
	// StartPressure is the pressure at connect time.
	StartPressure float64

	// Temperature is the baseline board temperature in degrees Celsius.
	Temperature float64

	// Noise scales the symmetric jitter applied to pressure readings.
	// Zero noise makes readings deterministic.
	Noise float64

	// Seed seeds the jitter source. Zero seeds from the current time.
	Seed int64
}

// SimulatedDevice produces physically plausible readings with no hardware:
// a logarithmic pressure decay approximating pump-down plus a gently
// oscillating temperature.
type SimulatedDevice struct {
	cfg   SimConfig
	clock timeutil.Clock

	mu        sync.Mutex
	connected bool
	startTime time.Time
	unit      string
	rng       *rand.Rand
}

// NewSimulatedDevice creates a simulator. A nil clock uses the system clock.
func NewSimulatedDevice(cfg SimConfig, clock timeutil.Clock) *SimulatedDevice {
	if cfg.StartPressure == 0 {
		cfg.StartPressure = 1.0e-1
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 22.0
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &SimulatedDevice{
		cfg:   cfg,
		clock: clock,
		unit:  units.MBAR,
		rng:   rand.New(rand.NewSource(seed)),
	}
}

// Connect starts the simulator's logical clock.
func (d *SimulatedDevice) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startTime = d.clock.Now()
	d.connected = true
	return nil
}

// Disconnect stops the simulator.
func (d *SimulatedDevice) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

// IsConnected reports whether the simulator is running.
func (d *SimulatedDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// elapsedLocked returns seconds since Connect. Callers must hold d.mu.
func (d *SimulatedDevice) elapsedLocked() float64 {
	elapsed := d.clock.Since(d.startTime).Seconds()
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// ReadPressure returns P(t) = P0 * 10^-(t/120s) plus symmetric jitter,
// floored at a small positive epsilon so readings stay strictly positive.
func (d *SimulatedDevice) ReadPressure() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return 0, fmt.Errorf("%w: simulator", ErrNotConnected)
	}

	base := d.cfg.StartPressure * math.Pow(10, -(d.elapsedLocked()/120.0))
	jitter := base * d.cfg.Noise * (d.rng.Float64() - 0.5)
	return math.Max(base+jitter, 1e-9), nil
}

// ReadTemperature returns the baseline temperature with a slow half-degree
// oscillation.
func (d *SimulatedDevice) ReadTemperature() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.connected {
		return 0, fmt.Errorf("%w: simulator", ErrNotConnected)
	}

	return d.cfg.Temperature + 0.5*math.Sin(d.elapsedLocked()/60.0), nil
}

// Query reads pressure then temperature, failing on the first error.
func (d *SimulatedDevice) Query() (Measurement, error) {
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

// GetPressureUnit returns the locally stored unit token. The simulator has
// no wire to negotiate with.
func (d *SimulatedDevice) GetPressureUnit() (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.unit, nil
}

// SetPressureUnit stores the unit token locally.
func (d *SimulatedDevice) SetPressureUnit(unit string) error {
	unit = units.Normalize(unit)
	if !units.IsValid(unit) {
		return fmt.Errorf("invalid pressure unit %q: valid units are %s", unit, units.GetValidUnitsString())
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.unit = unit
	return nil
}

// SendCommand echoes a plausible, well-formed response for the command.
func (d *SimulatedDevice) SendCommand(raw string) (string, error) {
	switch {
	case strings.Contains(raw, "U?P"):
		unit, _ := d.GetPressureUnit()
		return AckTag + unit, nil
	case strings.Contains(raw, "P?"):
		pressure, err := d.ReadPressure()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s%.3e", AckTag, pressure), nil
	case strings.Contains(raw, "T?"):
		temperature, err := d.ReadTemperature()
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%s%.2f", AckTag, temperature), nil
	default:
		return AckTag + "OK", nil
	}
}

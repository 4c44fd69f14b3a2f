// Package control orchestrates gauge acquisition runs: it owns the active
// device adapter and sampling engine, replaces them across unit changes, and
// fans sampled data out to in-process subscribers, the broadcaster, the
// sample store and the optional MQTT publisher.
package control

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vaclab-data/pressure.report/internal/fsutil"
	"github.com/vaclab-data/pressure.report/internal/monitoring"
	"github.com/vaclab-data/pressure.report/internal/quantum"
	"github.com/vaclab-data/pressure.report/internal/recorder"
	"github.com/vaclab-data/pressure.report/internal/sampler"
	"github.com/vaclab-data/pressure.report/internal/serialport"
	"github.com/vaclab-data/pressure.report/internal/timeutil"
	"github.com/vaclab-data/pressure.report/internal/units"
)

// Mode identifies which kind of device adapter backs the current run.
type Mode string

const (
	ModeReal      Mode = "real"
	ModeSimulated Mode = "sim"
)

// ErrNotRunning is returned by operations that need an active run.
var ErrNotRunning = errors.New("control: no active run")

// ErrAlreadyRunning is returned when a start is attempted over a live run.
var ErrAlreadyRunning = errors.New("control: a run is already active")

// DefaultPollInterval is used when a start request leaves the interval unset.
const DefaultPollInterval = 2 * time.Second

// SampleStore persists run metadata and samples. *db.Store satisfies it.
type SampleStore interface {
	RecordRun(runID string, variant, unit string, pollMs int64, startedAt time.Time) error
	FinishRun(runID string, reason string, stoppedAt time.Time) error
	RecordSample(runID string, recordedAt time.Time, unit string, pressure, temperature float64) error
}

// Publisher pushes sampled data to an external broker. *mqttpub.Publisher
// satisfies it.
type Publisher interface {
	PublishMeasurement(unit string, m quantum.Measurement, at time.Time) error
	PublishError(message string, at time.Time) error
}

// RealConfig describes a run against a physical gauge.
type RealConfig struct {
	Port         string
	Options      serialport.Options
	Address      int
	PollInterval time.Duration
	Unit         string

	// ReadTimeout and PollDelay tune the serial exchange; zero values take
	// the adapter defaults.
	ReadTimeout time.Duration
	PollDelay   time.Duration
}

// SimulatedConfig describes a run against the built-in simulator.
type SimulatedConfig struct {
	Sim          quantum.SimConfig
	PollInterval time.Duration
	Unit         string
}

// Status is a point-in-time snapshot of the controller.
type Status struct {
	Running      bool                 `json:"running"`
	Mode         Mode                 `json:"mode,omitempty"`
	Unit         string               `json:"unit,omitempty"`
	PollMs       int64                `json:"poll_ms,omitempty"`
	RunID        string               `json:"run_id,omitempty"`
	LogPath      string               `json:"log_path,omitempty"`
	LastSample   *quantum.Measurement `json:"last_sample,omitempty"`
	LastSampleAt time.Time            `json:"last_sample_at,omitzero"`
	LastError    string               `json:"last_error,omitempty"`
}

// Config carries the controller's collaborators. Zero-value fields fall back
// to production defaults.
type Config struct {
	// LogDir is where CSV measurement logs are written. Defaults to "logs".
	LogDir string

	// Store receives run metadata and samples. Optional.
	Store SampleStore

	// Publisher receives sampled data for external fan-out. Optional.
	Publisher Publisher

	// Factory opens serial ports for real runs. Defaults to the OS factory.
	Factory serialport.Factory

	// FS backs the CSV recorder. Defaults to the OS filesystem.
	FS fsutil.FileSystem

	// Clock drives polling and timestamps. Defaults to the real clock.
	Clock timeutil.Clock
}

// Controller is the single owner of the device/engine pair. All lifecycle
// operations (start, stop, unit change) are serialized; at most one run is
// active at a time.
type Controller struct {
	logDir    string
	store     SampleStore
	publisher Publisher
	factory   serialport.Factory
	fs        fsutil.FileSystem
	clock     timeutil.Clock

	broadcaster *Broadcaster

	// mu guards the run lifecycle. It is never taken on the sampling path,
	// so holding it while waiting for an engine to drain is safe.
	mu      sync.Mutex
	engine  *sampler.Engine
	device  quantum.Device
	mode    Mode
	runID   string
	unit    string
	poll    time.Duration
	logPath string

	// subMu guards subscriber state and the last-update snapshot, which the
	// engine's loop goroutine touches on every sample.
	subMu        sync.Mutex
	callbacks    []sampler.Callback
	lastSample   *quantum.Measurement
	lastSampleAt time.Time
	lastError    string
}

// New creates a controller with no active run.
func New(cfg Config) *Controller {
	if cfg.LogDir == "" {
		cfg.LogDir = "logs"
	}
	if cfg.Factory == nil {
		cfg.Factory = serialport.RealFactory{ReadTimeout: quantum.DefaultReadTimeout}
	}
	if cfg.FS == nil {
		cfg.FS = fsutil.OSFileSystem{}
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Controller{
		logDir:      cfg.LogDir,
		store:       cfg.Store,
		publisher:   cfg.Publisher,
		factory:     cfg.Factory,
		fs:          cfg.FS,
		clock:       cfg.Clock,
		broadcaster: NewBroadcaster(),
	}
}

// Broadcaster exposes the channel fan-out for streaming consumers (SSE,
// websockets, MQTT bridges built outside the controller).
func (c *Controller) Broadcaster() *Broadcaster { return c.broadcaster }

// Subscribe registers a callback invoked for every update of every run the
// controller manages, in registration order. Callbacks run on the sampling
// goroutine and must not call back into lifecycle operations synchronously.
func (c *Controller) Subscribe(cb sampler.Callback) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// StartReal connects to a physical gauge and begins sampling.
func (c *Controller) StartReal(cfg RealConfig) error {
	unit, poll, err := normalizeStart(cfg.Unit, cfg.PollInterval)
	if err != nil {
		return err
	}
	device := quantum.NewRS232Device(quantum.RS232Config{
		Path:        cfg.Port,
		Options:     cfg.Options,
		Address:     cfg.Address,
		ReadTimeout: cfg.ReadTimeout,
		PollDelay:   cfg.PollDelay,
	}, c.factory, c.clock)
	return c.start(ModeReal, device, unit, poll)
}

// StartSimulated begins sampling against the built-in simulated gauge.
func (c *Controller) StartSimulated(cfg SimulatedConfig) error {
	unit, poll, err := normalizeStart(cfg.Unit, cfg.PollInterval)
	if err != nil {
		return err
	}
	device := quantum.NewSimulatedDevice(cfg.Sim, c.clock)
	if err := device.SetPressureUnit(unit); err != nil {
		return err
	}
	return c.start(ModeSimulated, device, unit, poll)
}

func normalizeStart(unit string, poll time.Duration) (string, time.Duration, error) {
	unit = units.Normalize(unit)
	if unit == "" {
		unit = units.MBAR
	}
	if !units.IsValid(unit) {
		return "", 0, fmt.Errorf("control: unsupported pressure unit %q (valid: %s)", unit, units.GetValidUnitsString())
	}
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	return unit, poll, nil
}

// start builds a fresh engine+recorder pair around device, records the run
// and begins polling. Callers have already validated unit and poll.
func (c *Controller) start(mode Mode, device quantum.Device, unit string, poll time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine != nil {
		return ErrAlreadyRunning
	}
	return c.startLocked(mode, device, unit, poll)
}

func (c *Controller) startLocked(mode Mode, device quantum.Device, unit string, poll time.Duration) error {
	rec, err := recorder.NewCSV(c.logDir, string(mode), unit, c.fs, c.clock)
	if err != nil {
		return fmt.Errorf("control: creating measurement log: %w", err)
	}

	runID := uuid.NewString()
	engine := sampler.New(device, poll, unit, rec, c.clock)
	engine.Subscribe(c.relayFor(runID, unit))

	if err := engine.Start(); err != nil {
		return err
	}

	if c.store != nil {
		if derr := c.store.RecordRun(runID, string(mode), unit, poll.Milliseconds(), c.clock.Now().UTC()); derr != nil {
			monitoring.Logf("control: recording run %s: %v", runID, derr)
		}
	}

	c.engine = engine
	c.device = device
	c.mode = mode
	c.runID = runID
	c.unit = unit
	c.poll = poll
	c.logPath = rec.Path()

	c.subMu.Lock()
	c.lastSample = nil
	c.lastSampleAt = time.Time{}
	c.lastError = ""
	c.subMu.Unlock()
	return nil
}

// Stop halts the active run and disconnects the device. Stopping when
// nothing is running returns ErrNotRunning.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopLocked("stopped")
}

func (c *Controller) stopLocked(reason string) error {
	if c.engine == nil {
		return ErrNotRunning
	}
	c.engine.Stop()

	if c.store != nil {
		if err := c.store.FinishRun(c.runID, reason, c.clock.Now().UTC()); err != nil {
			monitoring.Logf("control: finishing run %s: %v", c.runID, err)
		}
	}

	c.engine = nil
	c.device = nil
	c.runID = ""
	c.logPath = ""
	return nil
}

// ChangeUnit stops the active run, switches the gauge to the new display
// unit, and starts a brand-new run (fresh engine, recorder and run ID) at
// the given poll interval. A zero interval keeps the previous one.
func (c *Controller) ChangeUnit(unit string, poll time.Duration) error {
	unit = units.Normalize(unit)
	if !units.IsValid(unit) {
		return fmt.Errorf("control: unsupported pressure unit %q (valid: %s)", unit, units.GetValidUnitsString())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.engine == nil {
		return ErrNotRunning
	}
	device := c.device
	mode := c.mode
	if poll <= 0 {
		poll = c.poll
	}

	if err := c.stopLocked("unit change"); err != nil {
		return err
	}

	// The engine has released the device; take it back for the one
	// verified write the unit switch needs.
	if err := device.Connect(); err != nil {
		return fmt.Errorf("control: reconnecting for unit change: %w", err)
	}
	switchErr := device.SetPressureUnit(unit)
	device.Disconnect()
	if switchErr != nil {
		return switchErr
	}

	return c.startLocked(mode, device, unit, poll)
}

// SendCommand forwards a raw protocol command through the active device and
// returns the gauge's reply. The adapter serializes it against polling.
func (c *Controller) SendCommand(raw string) (string, error) {
	c.mu.Lock()
	device := c.device
	c.mu.Unlock()

	if device == nil {
		return "", ErrNotRunning
	}
	return device.SendCommand(raw)
}

// Status reports a consistent snapshot of the controller.
func (c *Controller) Status() Status {
	c.mu.Lock()
	s := Status{
		Running: c.engine != nil && c.engine.Running(),
		Unit:    c.unit,
		RunID:   c.runID,
		LogPath: c.logPath,
	}
	if c.engine != nil {
		s.Mode = c.mode
		s.PollMs = c.poll.Milliseconds()
	}
	c.mu.Unlock()

	c.subMu.Lock()
	if c.lastSample != nil {
		m := *c.lastSample
		s.LastSample = &m
		s.LastSampleAt = c.lastSampleAt
	}
	s.LastError = c.lastError
	c.subMu.Unlock()
	return s
}

// relayFor builds the per-run engine callback: it snapshots the latest
// update, fans out to controller subscribers and the broadcaster, and
// forwards to the store and publisher. It runs on the engine's goroutine
// and must never take c.mu.
func (c *Controller) relayFor(runID, unit string) sampler.Callback {
	return func(u sampler.Update) {
		now := c.clock.Now().UTC()

		c.subMu.Lock()
		if u.Err != nil {
			c.lastError = u.Err.Error()
		} else {
			m := u.Measurement
			c.lastSample = &m
			c.lastSampleAt = now
		}
		cbs := make([]sampler.Callback, len(c.callbacks))
		copy(cbs, c.callbacks)
		c.subMu.Unlock()

		for _, cb := range cbs {
			cb(u)
		}
		c.broadcaster.Publish(u)

		if c.store != nil {
			if u.Err == nil {
				if err := c.store.RecordSample(runID, now, unit, u.Measurement.Pressure, u.Measurement.Temperature); err != nil {
					monitoring.Logf("control: recording sample for run %s: %v", runID, err)
				}
			} else if err := c.store.FinishRun(runID, "sample error: "+u.Err.Error(), now); err != nil {
				monitoring.Logf("control: finishing failed run %s: %v", runID, err)
			}
		}
		if c.publisher != nil {
			if u.Err == nil {
				if err := c.publisher.PublishMeasurement(unit, u.Measurement, now); err != nil {
					monitoring.Logf("control: publishing sample: %v", err)
				}
			} else if err := c.publisher.PublishError(u.Err.Error(), now); err != nil {
				monitoring.Logf("control: publishing sample error: %v", err)
			}
		}
	}
}

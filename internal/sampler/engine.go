// Package sampler runs the background polling loop that owns a gauge
// connection, fans measurements out to subscribers, and persists each sample.
package sampler

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/vaclab-data/pressure.report/internal/monitoring"
	"github.com/vaclab-data/pressure.report/internal/quantum"
	"github.com/vaclab-data/pressure.report/internal/timeutil"
)

// ErrEngineStopped is returned by Start on an engine that has already been
// stopped. Engines are single-use: construct a fresh one for a new run.
var ErrEngineStopped = errors.New("engine already stopped: create a new engine")

// Update is what the engine delivers to subscribers: either a Measurement or
// a terminal error, never both. An Update with Err set is always the last
// emission of an engine's lifetime.
type Update struct {
	Measurement quantum.Measurement
	Err         error
}

// Callback receives every Update, synchronously, in sample order. Callbacks
// must be cheap or hand off internally: a slow callback delays the next poll
// tick (it never deadlocks the transport, since callbacks run outside the
// adapter's critical section).
type Callback func(Update)

// Recorder is the engine's persistence contract: one appended row per sample.
type Recorder interface {
	Append(row []string) error
	Path() string
}

type state int

const (
	stateIdle state = iota
	stateRunning
	stateStopped
)

// Engine owns one quantum.Device exclusively and runs at most one background
// sampling goroutine. Lifecycle is Idle -> Running -> Stopped, one way.
type Engine struct {
	device   quantum.Device
	interval time.Duration
	unit     string
	rec      Recorder
	clock    timeutil.Clock

	mu        sync.Mutex
	state     state
	callbacks []Callback
	cancel    chan struct{}
	done      chan struct{}
}

// New creates an engine polling the given device at the given interval. The
// unit tags recorded rows; rec may be nil to skip persistence. A nil clock
// uses the system clock.
func New(device quantum.Device, interval time.Duration, unit string, rec Recorder, clock timeutil.Clock) *Engine {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &Engine{
		device:   device,
		interval: interval,
		unit:     unit,
		rec:      rec,
		clock:    clock,
	}
}

// Subscribe registers a callback invoked on every future Update. The
// subscriber list is append-only for the engine's lifetime, and Subscribe is
// safe to call before Start.
func (e *Engine) Subscribe(cb Callback) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = append(e.callbacks, cb)
}

// Start connects the device and launches the sampling goroutine. Calling
// Start on a running engine is a no-op; on a stopped engine it fails with
// ErrEngineStopped.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrEngineStopped
	}

	if err := e.device.Connect(); err != nil {
		return err
	}

	e.cancel = make(chan struct{})
	e.done = make(chan struct{})
	e.state = stateRunning
	go e.loop(e.cancel, e.done)
	return nil
}

// Stop signals the sampling goroutine to exit, waits for it, then
// disconnects the device. Disconnection happens strictly after the goroutine
// has exited so a poll in flight never races the transport being closed.
// Stop is idempotent and terminal.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state != stateRunning {
		e.state = stateStopped
		e.mu.Unlock()
		return
	}
	e.state = stateStopped
	close(e.cancel)
	done := e.done
	e.mu.Unlock()

	<-done
	e.device.Disconnect()
}

// Running reports whether the sampling goroutine is active.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == stateRunning
}

// Unit returns the unit tag recorded with each sample.
func (e *Engine) Unit() string {
	return e.unit
}

// Interval returns the poll interval.
func (e *Engine) Interval() time.Duration {
	return e.interval
}

// LogPath returns the recorder's file path, or empty when persistence is
// disabled.
func (e *Engine) LogPath() string {
	if e.rec == nil {
		return ""
	}
	return e.rec.Path()
}

// loop is the sampling goroutine. Cancellation is cooperative, checked once
// per iteration; a query failure is terminal and ends the run permanently.
func (e *Engine) loop(cancel <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	for {
		select {
		case <-cancel:
			return // graceful exit, no error emitted
		default:
		}

		m, err := e.device.Query()
		if err != nil {
			// Terminal: most causes (cable pulled, power cycle,
			// firmware desync) need a clean re-handshake, so no
			// retry. Release the transport; Stop's disconnect is
			// then a no-op.
			e.fanOut(Update{Err: err})
			e.device.Disconnect()
			e.mu.Lock()
			e.state = stateStopped
			e.mu.Unlock()
			return
		}

		e.fanOut(Update{Measurement: m})
		e.record(m)

		select {
		case <-cancel:
			return
		case <-e.clock.After(e.interval):
		}
	}
}

// fanOut delivers an update to every subscriber in registration order.
func (e *Engine) fanOut(u Update) {
	e.mu.Lock()
	callbacks := e.callbacks
	e.mu.Unlock()

	for _, cb := range callbacks {
		cb(u)
	}
}

// record appends the sample to the recorder. Append failures are logged and
// sampling continues: losing a log row is preferable to killing the run.
func (e *Engine) record(m quantum.Measurement) {
	if e.rec == nil {
		return
	}

	row := []string{
		e.clock.Now().UTC().Format(time.RFC3339),
		e.unit,
		strconv.FormatFloat(m.Pressure, 'e', 6, 64),
		strconv.FormatFloat(m.Temperature, 'f', 2, 64),
		"", // setpoint status placeholder
	}
	if err := e.rec.Append(row); err != nil {
		monitoring.Logf("sampler: failed to record sample to %s: %v", e.rec.Path(), err)
	}
}

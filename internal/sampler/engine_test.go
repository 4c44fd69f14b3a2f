package sampler

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vaclab-data/pressure.report/internal/quantum"
	"github.com/vaclab-data/pressure.report/internal/units"
)

// fakeDevice implements quantum.Device with scripted failure behaviour.
type fakeDevice struct {
	mu          sync.Mutex
	connects    int
	disconnects int
	connected   bool
	queries     int
	failAfter   int // successful queries before Query starts failing; -1 never
	connectErr  error
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{failAfter: -1}
}

func (d *fakeDevice) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connects++
	if d.connectErr != nil {
		return d.connectErr
	}
	d.connected = true
	return nil
}

func (d *fakeDevice) Disconnect() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnects++
	d.connected = false
}

func (d *fakeDevice) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *fakeDevice) Query() (quantum.Measurement, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return quantum.Measurement{}, quantum.ErrNotConnected
	}
	if d.failAfter >= 0 && d.queries >= d.failAfter {
		return quantum.Measurement{}, quantum.ErrNoResponse
	}
	d.queries++
	return quantum.Measurement{Pressure: 0.1 / float64(d.queries), Temperature: 22.0}, nil
}

func (d *fakeDevice) ReadPressure() (float64, error) {
	m, err := d.Query()
	return m.Pressure, err
}

func (d *fakeDevice) ReadTemperature() (float64, error) {
	m, err := d.Query()
	return m.Temperature, err
}

func (d *fakeDevice) GetPressureUnit() (string, error) { return units.MBAR, nil }
func (d *fakeDevice) SetPressureUnit(string) error     { return nil }
func (d *fakeDevice) SendCommand(string) (string, error) {
	return "ACKOK", nil
}

func (d *fakeDevice) counts() (connects, disconnects int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connects, d.disconnects
}

// memoryRecorder captures appended rows in memory.
type memoryRecorder struct {
	mu   sync.Mutex
	rows [][]string
	err  error
}

func (r *memoryRecorder) Append(row []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.rows = append(r.rows, row)
	return nil
}

func (r *memoryRecorder) Path() string { return "memory" }

func (r *memoryRecorder) Rows() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.rows))
	copy(out, r.rows)
	return out
}

// collector accumulates updates in delivery order.
type collector struct {
	mu      sync.Mutex
	updates []Update
}

func (c *collector) callback(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updates = append(c.updates, u)
}

func (c *collector) snapshot() []Update {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Update, len(c.updates))
	copy(out, c.updates)
	return out
}

func TestStartIsIdempotent(t *testing.T) {
	dev := newFakeDevice()
	engine := New(dev, 5*time.Millisecond, units.MBAR, nil, nil)

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := engine.Start(); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	defer engine.Stop()

	connects, _ := dev.counts()
	if connects != 1 {
		t.Errorf("Connect called %d times, want 1 (one sampling task)", connects)
	}
}

func TestStartConnectFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.connectErr = quantum.ErrConnectFailed

	engine := New(dev, 5*time.Millisecond, units.MBAR, nil, nil)
	if err := engine.Start(); !errors.Is(err, quantum.ErrConnectFailed) {
		t.Fatalf("Start error = %v, want ErrConnectFailed", err)
	}
	if engine.Running() {
		t.Error("engine should not be running after failed Start")
	}
}

func TestStopDisconnectsAfterLoopExit(t *testing.T) {
	dev := newFakeDevice()
	c := &collector{}
	engine := New(dev, 5*time.Millisecond, units.MBAR, nil, nil)
	engine.Subscribe(c.callback)

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	engine.Stop()

	if engine.Running() {
		t.Error("engine still running after Stop")
	}
	if dev.IsConnected() {
		t.Error("device still connected after Stop")
	}

	// Stop is idempotent.
	engine.Stop()

	// Engines are single-use.
	if err := engine.Start(); !errors.Is(err, ErrEngineStopped) {
		t.Errorf("Start after Stop error = %v, want ErrEngineStopped", err)
	}
}

func TestStopLeavesAdapterDisconnectedAfterFailure(t *testing.T) {
	dev := newFakeDevice()
	dev.failAfter = 0 // first query fails
	c := &collector{}
	engine := New(dev, 5*time.Millisecond, units.MBAR, nil, nil)
	engine.Subscribe(c.callback)

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(25 * time.Millisecond)
	engine.Stop()

	if dev.IsConnected() {
		t.Error("device still connected after Stop following a failed query")
	}
}

func TestTerminalErrorIsLastEmission(t *testing.T) {
	dev := newFakeDevice()
	dev.failAfter = 3
	c := &collector{}
	engine := New(dev, time.Millisecond, units.MBAR, nil, nil)
	engine.Subscribe(c.callback)

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	engine.Stop()

	updates := c.snapshot()
	if len(updates) != 4 {
		t.Fatalf("got %d updates, want 3 measurements plus 1 terminal error", len(updates))
	}
	for i, u := range updates[:3] {
		if u.Err != nil {
			t.Errorf("update %d carries unexpected error: %v", i, u.Err)
		}
	}
	last := updates[len(updates)-1]
	if !errors.Is(last.Err, quantum.ErrNoResponse) {
		t.Errorf("last update error = %v, want ErrNoResponse", last.Err)
	}
}

func TestSubscribersReceiveInRegistrationOrder(t *testing.T) {
	dev := newFakeDevice()
	engine := New(dev, time.Millisecond, units.MBAR, nil, nil)

	var mu sync.Mutex
	var order []string
	engine.Subscribe(func(Update) {
		mu.Lock()
		order = append(order, "first")
		mu.Unlock()
	})
	engine.Subscribe(func(Update) {
		mu.Lock()
		order = append(order, "second")
		mu.Unlock()
	})

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(10 * time.Millisecond)
	engine.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(order) < 2 {
		t.Fatalf("got %d callback invocations, want at least one full fan-out", len(order))
	}
	for i := 0; i+1 < len(order); i += 2 {
		if order[i] != "first" || order[i+1] != "second" {
			t.Fatalf("fan-out order broken at %d: %v", i, order[i:i+2])
		}
	}
}

func TestRecorderRowsMatchContract(t *testing.T) {
	dev := newFakeDevice()
	rec := &memoryRecorder{}
	engine := New(dev, time.Millisecond, units.TORR, rec, nil)

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	engine.Stop()

	rows := rec.Rows()
	if len(rows) == 0 {
		t.Fatal("no rows recorded")
	}
	for _, row := range rows {
		if len(row) != 5 {
			t.Fatalf("row has %d columns, want 5: %v", len(row), row)
		}
		if _, err := time.Parse(time.RFC3339, row[0]); err != nil {
			t.Errorf("row timestamp %q is not RFC3339: %v", row[0], err)
		}
		if row[1] != units.TORR {
			t.Errorf("row unit = %q, want TORR", row[1])
		}
		if row[4] != "" {
			t.Errorf("setpoint placeholder = %q, want empty", row[4])
		}
	}
}

func TestRecorderFailureDoesNotKillRun(t *testing.T) {
	dev := newFakeDevice()
	rec := &memoryRecorder{err: errors.New("disk full")}
	c := &collector{}
	engine := New(dev, time.Millisecond, units.MBAR, rec, nil)
	engine.Subscribe(c.callback)

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	engine.Stop()

	updates := c.snapshot()
	if len(updates) < 2 {
		t.Fatalf("got %d updates, want sampling to continue past append failures", len(updates))
	}
	for _, u := range updates {
		if u.Err != nil {
			t.Errorf("unexpected terminal error: %v", u.Err)
		}
	}
}

// End-to-end: a simulated engine at a 10ms interval delivers a steady stream
// of strictly positive pressures.
func TestSimulatedEndToEnd(t *testing.T) {
	dev := quantum.NewSimulatedDevice(quantum.SimConfig{Seed: 1}, nil)
	c := &collector{}
	engine := New(dev, 10*time.Millisecond, units.MBAR, nil, nil)
	engine.Subscribe(c.callback)

	if err := engine.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	engine.Stop()

	updates := c.snapshot()
	if len(updates) < 4 {
		t.Fatalf("got %d measurements in 100ms at 10ms interval, want >= 4", len(updates))
	}
	for i, u := range updates {
		if u.Err != nil {
			t.Fatalf("update %d carries error: %v", i, u.Err)
		}
		if u.Measurement.Pressure <= 0 {
			t.Errorf("update %d pressure = %v, want > 0", i, u.Measurement.Pressure)
		}
	}
	if dev.IsConnected() {
		t.Error("simulated device still connected after Stop")
	}
}

func TestLogPath(t *testing.T) {
	dev := newFakeDevice()
	if got := New(dev, time.Millisecond, units.MBAR, nil, nil).LogPath(); got != "" {
		t.Errorf("LogPath without recorder = %q, want empty", got)
	}
	rec := &memoryRecorder{}
	if got := New(dev, time.Millisecond, units.MBAR, rec, nil).LogPath(); got != "memory" {
		t.Errorf("LogPath = %q, want %q", got, "memory")
	}
	if !strings.Contains(units.GetValidUnitsString(), units.MBAR) {
		t.Error("valid units string should mention MBAR")
	}
}

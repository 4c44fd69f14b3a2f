package api

import (
	"bufio"
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaclab-data/pressure.report/internal/control"
	"github.com/vaclab-data/pressure.report/internal/db"
	"github.com/vaclab-data/pressure.report/internal/fsutil"
	"github.com/vaclab-data/pressure.report/internal/units"
)

type testServer struct {
	srv   *Server
	mux   *http.ServeMux
	ctrl  *control.Controller
	store *db.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.MigrateUp(); err != nil {
		t.Fatalf("MigrateUp failed: %v", err)
	}

	ctrl := control.New(control.Config{
		LogDir: "logs",
		Store:  store,
		FS:     fsutil.NewMemoryFileSystem(),
	})
	t.Cleanup(func() { ctrl.Stop() })

	srv := NewServer(ctrl, store)
	srv.listPorts = func() ([]string, error) {
		return []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}, nil
	}
	return &testServer{srv: srv, mux: srv.ServeMux(), ctrl: ctrl, store: store}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling request body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	w := httptest.NewRecorder()
	ts.mux.ServeHTTP(w, req)
	return w
}

func (ts *testServer) startSim(t *testing.T, unit string) {
	t.Helper()
	w := ts.do(t, http.MethodPost, "/api/connect", map[string]any{
		"mode": "sim", "unit": unit, "poll_ms": 2,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("connect failed: %d %s", w.Code, w.Body.String())
	}
}

func TestStatusEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var st struct {
		control.Status
		Version string `json:"version"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if st.Running {
		t.Error("fresh controller reports running")
	}
	if st.Version == "" {
		t.Error("status omits server version")
	}

	if w := ts.do(t, http.MethodPost, "/api/status", nil); w.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", w.Code)
	}
}

func TestPortsEndpoint(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodGet, "/api/ports", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ports = %d, want 200", w.Code)
	}
	var got map[string][]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid ports JSON: %v", err)
	}
	if len(got["ports"]) != 2 || got["ports"][0] != "/dev/ttyUSB0" {
		t.Errorf("ports = %v", got)
	}
}

func TestConnectAndDisconnectSimulated(t *testing.T) {
	ts := newTestServer(t)
	ts.startSim(t, "torr")

	var st control.Status
	w := ts.do(t, http.MethodGet, "/api/status", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if !st.Running || st.Unit != units.TORR || st.Mode != control.ModeSimulated {
		t.Errorf("status = %+v, want running sim in TORR", st)
	}

	// A second connect conflicts with the live run.
	w = ts.do(t, http.MethodPost, "/api/connect", map[string]any{"mode": "sim"})
	if w.Code != http.StatusConflict {
		t.Errorf("second connect = %d, want 409", w.Code)
	}

	if w := ts.do(t, http.MethodPost, "/api/disconnect", nil); w.Code != http.StatusOK {
		t.Fatalf("disconnect = %d, want 200", w.Code)
	}
	if w := ts.do(t, http.MethodPost, "/api/disconnect", nil); w.Code != http.StatusConflict {
		t.Errorf("redundant disconnect = %d, want 409", w.Code)
	}
}

func TestConnectValidation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(t, http.MethodPost, "/api/connect", map[string]any{"mode": "carrier-pigeon"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("unknown mode = %d, want 400", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/connect", map[string]any{"mode": "real"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("real mode without port = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/connect", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	ts.mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed body = %d, want 400", rec.Code)
	}
}

func TestUnitEndpoint(t *testing.T) {
	ts := newTestServer(t)

	// No active run yet.
	w := ts.do(t, http.MethodPost, "/api/unit", map[string]any{"unit": "MBAR"})
	if w.Code != http.StatusConflict {
		t.Errorf("unit change without run = %d, want 409", w.Code)
	}

	ts.startSim(t, "mbar")

	w = ts.do(t, http.MethodPost, "/api/unit", map[string]any{"unit": "PSI"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("invalid unit = %d, want 400", w.Code)
	}

	w = ts.do(t, http.MethodPost, "/api/unit", map[string]any{"unit": "torr", "poll_ms": 3})
	if w.Code != http.StatusOK {
		t.Fatalf("unit change = %d: %s", w.Code, w.Body.String())
	}
	var st control.Status
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("invalid status JSON: %v", err)
	}
	if st.Unit != units.TORR || st.PollMs != 3 || !st.Running {
		t.Errorf("status after unit change = %+v", st)
	}
}

func TestCommandEndpoint(t *testing.T) {
	ts := newTestServer(t)

	post := func(form string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/command", strings.NewReader(form))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		w := httptest.NewRecorder()
		ts.mux.ServeHTTP(w, req)
		return w
	}

	if w := post("command=U?P"); w.Code != http.StatusConflict {
		t.Errorf("command without run = %d, want 409", w.Code)
	}

	ts.startSim(t, "torr")

	if w := post(""); w.Code != http.StatusBadRequest {
		t.Errorf("empty command = %d, want 400", w.Code)
	}

	w := post("command=U?P")
	if w.Code != http.StatusOK {
		t.Fatalf("command = %d: %s", w.Code, w.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatalf("invalid command JSON: %v", err)
	}
	if got["reply"] != "ACK"+units.TORR {
		t.Errorf("reply = %q, want ACK%s", got["reply"], units.TORR)
	}
}

func seedSamples(t *testing.T, store *db.Store) string {
	t.Helper()
	runID := "seed-run"
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	if err := store.RecordRun(runID, "real", units.MBAR, 1000, base); err != nil {
		t.Fatalf("RecordRun failed: %v", err)
	}
	for i, p := range []float64{1000.0, 100.0, 10.0} {
		at := base.Add(time.Duration(i) * time.Second)
		if err := store.RecordSample(runID, at, units.MBAR, p, 22.0); err != nil {
			t.Fatalf("RecordSample failed: %v", err)
		}
	}
	return runID
}

func TestSamplesEndpoint(t *testing.T) {
	ts := newTestServer(t)
	runID := seedSamples(t, ts.store)

	w := ts.do(t, http.MethodGet, "/api/samples?run="+runID+"&limit=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("samples = %d: %s", w.Code, w.Body.String())
	}
	var samples []db.Sample
	if err := json.Unmarshal(w.Body.Bytes(), &samples); err != nil {
		t.Fatalf("invalid samples JSON: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("got %d samples, want 2", len(samples))
	}
	if samples[0].Pressure != 10.0 {
		t.Errorf("newest pressure = %v, want 10.0", samples[0].Pressure)
	}

	// On-the-fly conversion to torr: 1000 mbar is 750.062 torr.
	w = ts.do(t, http.MethodGet, "/api/samples?run="+runID+"&units=torr", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &samples); err != nil {
		t.Fatalf("invalid converted samples JSON: %v", err)
	}
	oldest := samples[len(samples)-1]
	if oldest.Unit != units.TORR {
		t.Errorf("converted unit = %q, want TORR", oldest.Unit)
	}
	if diff := oldest.Pressure - 750.062; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("converted pressure = %v, want 750.062", oldest.Pressure)
	}

	if w := ts.do(t, http.MethodGet, "/api/samples?units=PSI", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad units = %d, want 400", w.Code)
	}
	if w := ts.do(t, http.MethodGet, "/api/samples?limit=-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", w.Code)
	}
}

func TestStatsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	runID := seedSamples(t, ts.store)

	w := ts.do(t, http.MethodGet, "/api/stats?run="+runID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d: %s", w.Code, w.Body.String())
	}
	var st db.Stats
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatalf("invalid stats JSON: %v", err)
	}
	if st.Count != 3 || st.Min != 10.0 || st.Max != 1000.0 {
		t.Errorf("stats = %+v", st)
	}

	if w := ts.do(t, http.MethodGet, "/api/stats?hours=banana", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad hours = %d, want 400", w.Code)
	}
}

func TestRunsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	runID := seedSamples(t, ts.store)

	w := ts.do(t, http.MethodGet, "/api/runs", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("runs = %d: %s", w.Code, w.Body.String())
	}
	var runs []db.Run
	if err := json.Unmarshal(w.Body.Bytes(), &runs); err != nil {
		t.Fatalf("invalid runs JSON: %v", err)
	}
	if len(runs) != 1 || runs[0].RunID != runID {
		t.Errorf("runs = %+v, want single run %s", runs, runID)
	}
}

func TestPressureChartRenders(t *testing.T) {
	ts := newTestServer(t)
	seedSamples(t, ts.store)

	w := ts.do(t, http.MethodGet, "/charts/pressure", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("chart = %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.Contains(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}
	if !strings.Contains(w.Body.String(), "echarts") {
		t.Error("chart HTML does not reference echarts")
	}

	w = ts.do(t, http.MethodGet, "/charts/temperature", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("temperature chart = %d", w.Code)
	}
}

func TestLiveStream(t *testing.T) {
	ts := newTestServer(t)
	hs := httptest.NewServer(ts.mux)
	defer hs.Close()

	resp, err := http.Get(hs.URL + "/api/live")
	if err != nil {
		t.Fatalf("GET /api/live: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "text/event-stream") {
		t.Fatalf("Content-Type = %q, want text/event-stream", ct)
	}

	ts.startSim(t, "mbar")

	reader := bufio.NewReader(resp.Body)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev liveEvent
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev); err != nil {
			t.Fatalf("invalid event JSON %q: %v", line, err)
		}
		if ev.Pressure == nil || *ev.Pressure <= 0 {
			t.Errorf("event = %+v, want positive pressure", ev)
		}
		if ev.Unit != units.MBAR {
			t.Errorf("event unit = %q, want MBAR", ev.Unit)
		}
		return
	}
	t.Fatal("no data frame received before deadline")
}

func TestLiveWebSocket(t *testing.T) {
	ts := newTestServer(t)
	hs := httptest.NewServer(ts.mux)
	defer hs.Close()

	url := "ws" + strings.TrimPrefix(hs.URL, "http") + "/api/live/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer conn.Close()

	ts.startSim(t, "torr")

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var ev liveEvent
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("reading websocket frame: %v", err)
	}
	if ev.Pressure == nil || ev.Unit != units.TORR {
		t.Errorf("frame = %+v, want pressure in TORR", ev)
	}
}

package recorder

import (
	"strings"
	"testing"
	"time"

	"github.com/vaclab-data/pressure.report/internal/fsutil"
	"github.com/vaclab-data/pressure.report/internal/timeutil"
)

func TestNewCSVWritesHeaderOnce(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC))

	rec, err := NewCSV("logs", "sim", "MBAR", fs, clock)
	if err != nil {
		t.Fatalf("NewCSV failed: %v", err)
	}

	wantPath := "logs/sim_mbar_measurements_20260115_093000.csv"
	if rec.Path() != wantPath {
		t.Errorf("Path() = %q, want %q", rec.Path(), wantPath)
	}

	data, err := fs.ReadFile(rec.Path())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if got := string(data); got != "timestamp_utc,unit,pressure,temperature,setpoint_status\n" {
		t.Errorf("header = %q", got)
	}
}

func TestAppendRows(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC))

	rec, err := NewCSV("logs", "real", "TORR", fs, clock)
	if err != nil {
		t.Fatalf("NewCSV failed: %v", err)
	}

	rows := [][]string{
		{"2026-01-15T09:30:00Z", "TORR", "7.4601e+02", "22.41", ""},
		{"2026-01-15T09:30:01Z", "TORR", "7.4600e+02", "22.40", ""},
	}
	for _, row := range rows {
		if err := rec.Append(row); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	data, err := fs.ReadFile(rec.Path())
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 3 {
		t.Fatalf("got %d lines, want header plus 2 rows: %q", len(lines), data)
	}
	if lines[1] != "2026-01-15T09:30:00Z,TORR,7.4601e+02,22.41," {
		t.Errorf("first row = %q", lines[1])
	}
	// every row carries the five-column contract
	for i, line := range lines {
		if got := strings.Count(line, ",") + 1; got != 5 {
			t.Errorf("line %d has %d columns, want 5: %q", i, got, line)
		}
	}
}

func TestSeparateRunsGetSeparateFiles(t *testing.T) {
	fs := fsutil.NewMemoryFileSystem()
	clock := timeutil.NewMockClock(time.Date(2026, 1, 15, 9, 30, 0, 0, time.UTC))

	first, err := NewCSV("logs", "sim", "MBAR", fs, clock)
	if err != nil {
		t.Fatalf("NewCSV failed: %v", err)
	}

	clock.Advance(90 * time.Second)
	second, err := NewCSV("logs", "sim", "TORR", fs, clock)
	if err != nil {
		t.Fatalf("NewCSV failed: %v", err)
	}

	if first.Path() == second.Path() {
		t.Errorf("runs share a log file: %q", first.Path())
	}
}

// Package recorder persists sampled measurements to append-only CSV files,
// one file per run.
package recorder

import (
	"encoding/csv"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/vaclab-data/pressure.report/internal/fsutil"
	"github.com/vaclab-data/pressure.report/internal/timeutil"
)

// Header is the column layout of every measurement log.
var Header = []string{"timestamp_utc", "unit", "pressure", "temperature", "setpoint_status"}

// CSV appends measurement rows to a timestamped CSV file. The file is opened
// in append mode per row, trading throughput for durability: a crash loses
// at most the row in flight.
type CSV struct {
	fs   fsutil.FileSystem
	path string

	mu sync.Mutex
}

// NewCSV creates the log directory and a fresh CSV file named
// <prefix>_<unit>_measurements_<timestamp>.csv with the header row written.
// The prefix conventionally identifies the device variant ("real" or "sim").
// A nil fs or clock selects the real filesystem and system clock.
func NewCSV(dir, prefix, unit string, fs fsutil.FileSystem, clock timeutil.Clock) (*CSV, error) {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	if err := fs.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}

	timestamp := clock.Now().UTC().Format("20060102_150405")
	name := fmt.Sprintf("%s_%s_measurements_%s.csv", prefix, strings.ToLower(unit), timestamp)
	path := filepath.Join(dir, name)

	f, err := fs.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create log file %s: %w", path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(Header); err != nil {
		f.Close()
		return nil, fmt.Errorf("write header to %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return nil, fmt.Errorf("flush header to %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("close log file %s: %w", path, err)
	}

	return &CSV{fs: fs, path: path}, nil
}

// Path returns the log file path.
func (c *CSV) Path() string {
	return c.path
}

// Append writes one row to the log file.
func (c *CSV) Append(row []string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	f, err := c.fs.OpenAppend(c.path)
	if err != nil {
		return fmt.Errorf("open %s for append: %w", c.path, err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(row); err != nil {
		f.Close()
		return fmt.Errorf("append to %s: %w", c.path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush %s: %w", c.path, err)
	}
	return f.Close()
}

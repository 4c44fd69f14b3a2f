// Command plot-log renders a measurement CSV produced by a gauge run into
// pressure and temperature PNG charts for offline analysis.
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/vaclab-data/pressure.report/internal/recorder"
)

var (
	inFile = flag.String("in", "", "Measurement CSV to plot (required)")
	outDir = flag.String("out", ".", "Directory to write PNG files into")
)

// logRow is one parsed measurement row.
type logRow struct {
	At          time.Time
	Unit        string
	Pressure    float64
	Temperature float64
}

// parseLog reads a measurement CSV. Rows that fail to parse are skipped
// rather than aborting the whole plot; a partially written trailing row is
// normal after a crash.
func parseLog(r io.Reader) ([]logRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(recorder.Header)

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if header[0] != recorder.Header[0] {
		return nil, fmt.Errorf("not a measurement log: header starts with %q", header[0])
	}

	var rows []logRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}

		at, err := time.Parse(time.RFC3339, record[0])
		if err != nil {
			continue
		}
		pressure, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			continue
		}
		temperature, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			continue
		}

		rows = append(rows, logRow{
			At:          at,
			Unit:        record[1],
			Pressure:    pressure,
			Temperature: temperature,
		})
	}
	return rows, nil
}

// pressurePoints maps rows onto seconds-since-start against pressure,
// dropping non-positive values that a log scale cannot place.
func pressurePoints(rows []logRow) plotter.XYs {
	if len(rows) == 0 {
		return nil
	}
	start := rows[0].At
	pts := make(plotter.XYs, 0, len(rows))
	for _, row := range rows {
		if row.Pressure <= 0 {
			continue
		}
		pts = append(pts, plotter.XY{X: row.At.Sub(start).Seconds(), Y: row.Pressure})
	}
	return pts
}

func temperaturePoints(rows []logRow) plotter.XYs {
	if len(rows) == 0 {
		return nil
	}
	start := rows[0].At
	pts := make(plotter.XYs, 0, len(rows))
	for _, row := range rows {
		pts = append(pts, plotter.XY{X: row.At.Sub(start).Seconds(), Y: row.Temperature})
	}
	return pts
}

func savePressurePlot(rows []logRow, path string) error {
	pts := pressurePoints(rows)
	if len(pts) == 0 {
		return fmt.Errorf("no plottable pressure samples")
	}

	p := plot.New()
	p.Title.Text = "Pressure"
	p.X.Label.Text = "Elapsed (s)"
	p.Y.Label.Text = fmt.Sprintf("Pressure (%s)", rows[0].Unit)
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

func saveTemperaturePlot(rows []logRow, path string) error {
	pts := temperaturePoints(rows)
	if len(pts) == 0 {
		return fmt.Errorf("no plottable temperature samples")
	}

	p := plot.New()
	p.Title.Text = "Board Temperature"
	p.X.Label.Text = "Elapsed (s)"
	p.Y.Label.Text = "Temperature (°C)"

	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Width = vg.Points(1)
	p.Add(line, plotter.NewGrid())

	return p.Save(14*vg.Inch, 6*vg.Inch, path)
}

func main() {
	flag.Parse()
	if *inFile == "" {
		log.Fatal("usage: plot-log -in <measurement.csv> [-out <dir>]")
	}

	f, err := os.Open(*inFile)
	if err != nil {
		log.Fatalf("failed to open %s: %v", *inFile, err)
	}
	defer f.Close()

	rows, err := parseLog(f)
	if err != nil {
		log.Fatalf("failed to parse %s: %v", *inFile, err)
	}
	if len(rows) == 0 {
		log.Fatalf("%s contains no samples", *inFile)
	}

	if err := os.MkdirAll(*outDir, 0755); err != nil {
		log.Fatalf("failed to create output directory: %v", err)
	}

	base := strings.TrimSuffix(filepath.Base(*inFile), filepath.Ext(*inFile))
	pressurePath := filepath.Join(*outDir, base+"_pressure.png")
	temperaturePath := filepath.Join(*outDir, base+"_temperature.png")

	if err := savePressurePlot(rows, pressurePath); err != nil {
		log.Fatalf("failed to plot pressure: %v", err)
	}
	if err := saveTemperaturePlot(rows, temperaturePath); err != nil {
		log.Fatalf("failed to plot temperature: %v", err)
	}

	fmt.Printf("wrote %s and %s (%d samples spanning %s)\n",
		pressurePath, temperaturePath, len(rows),
		rows[len(rows)-1].At.Sub(rows[0].At).Round(time.Second))
}

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/vaclab-data/pressure.report/internal/httputil"
	"github.com/vaclab-data/pressure.report/internal/units"
)

// parseLimit reads an optional positive integer query parameter, returning 0
// (meaning "store default") when absent.
func parseLimit(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid %q parameter", name)
	}
	return n, nil
}

// listSamples serves GET /api/samples. Optional parameters: run (run ID
// filter), limit, and units (convert pressures to the given unit on the way
// out; stored values are untouched).
func (s *Server) listSamples(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit, err := parseLimit(r, "limit")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	target := units.Normalize(r.URL.Query().Get("units"))
	if target != "" && !units.IsValid(target) {
		httputil.BadRequest(w, fmt.Sprintf("unsupported units %q: valid units are %s", target, units.GetValidUnitsString()))
		return
	}

	samples, err := s.store.RecentSamples(r.URL.Query().Get("run"), limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve samples: %v", err))
		return
	}

	if target != "" {
		for i := range samples {
			samples[i].Pressure = units.ConvertPressure(samples[i].Pressure, samples[i].Unit, target)
			samples[i].Unit = target
		}
	}
	httputil.WriteJSONOK(w, samples)
}

// showStats serves GET /api/stats. Optional parameters: run and hours (only
// samples from the last N hours).
func (s *Server) showStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("hours"); raw != "" {
		hours, err := strconv.ParseFloat(raw, 64)
		if err != nil || hours <= 0 {
			httputil.BadRequest(w, "invalid 'hours' parameter")
			return
		}
		since = time.Now().UTC().Add(-time.Duration(hours * float64(time.Hour)))
	}

	stats, err := s.store.SampleStats(r.URL.Query().Get("run"), since)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to compute stats: %v", err))
		return
	}
	httputil.WriteJSONOK(w, stats)
}

// listRuns serves GET /api/runs.
func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	limit, err := parseLimit(r, "limit")
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	runs, err := s.store.Runs(limit)
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to retrieve runs: %v", err))
		return
	}
	httputil.WriteJSONOK(w, runs)
}

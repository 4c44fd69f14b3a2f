// Package api exposes the gauge controller and sample history over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/vaclab-data/pressure.report/internal/control"
	"github.com/vaclab-data/pressure.report/internal/db"
	"github.com/vaclab-data/pressure.report/internal/httputil"
	"github.com/vaclab-data/pressure.report/internal/quantum"
	"github.com/vaclab-data/pressure.report/internal/serialport"
	"github.com/vaclab-data/pressure.report/internal/units"
	"github.com/vaclab-data/pressure.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	ctrl  *control.Controller
	store *db.Store

	// listPorts enumerates serial devices; swapped out in tests.
	listPorts func() ([]string, error)
}

func NewServer(ctrl *control.Controller, store *db.Store) *Server {
	return &Server{
		ctrl:      ctrl,
		store:     store,
		listPorts: serialport.List,
	}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		log.Printf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/ports", s.listSerialPorts)
	mux.HandleFunc("/api/connect", s.connect)
	mux.HandleFunc("/api/disconnect", s.disconnect)
	mux.HandleFunc("/api/unit", s.changeUnit)
	mux.HandleFunc("/api/command", s.sendCommandHandler)
	mux.HandleFunc("/api/samples", s.listSamples)
	mux.HandleFunc("/api/stats", s.showStats)
	mux.HandleFunc("/api/runs", s.listRuns)
	mux.HandleFunc("/api/live", s.streamLive)
	mux.HandleFunc("/api/live/ws", s.streamLiveWS)
	mux.HandleFunc("/charts/pressure", s.pressureChart)
	mux.HandleFunc("/charts/temperature", s.temperatureChart)
	return mux
}

// statusResponse is the controller status plus the server build version.
type statusResponse struct {
	control.Status
	Version string `json:"version"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, statusResponse{Status: s.ctrl.Status(), Version: version.Version})
}

func (s *Server) listSerialPorts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	ports, err := s.listPorts()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to enumerate serial ports: %v", err))
		return
	}
	if ports == nil {
		ports = []string{}
	}
	httputil.WriteJSONOK(w, map[string][]string{"ports": ports})
}

// connectRequest is the body of POST /api/connect.
type connectRequest struct {
	Mode    string  `json:"mode"` // "real" or "sim"
	Port    string  `json:"port,omitempty"`
	Baud    int     `json:"baud,omitempty"`
	Address int     `json:"address,omitempty"`
	PollMs  int64   `json:"poll_ms,omitempty"`
	Unit    string  `json:"unit,omitempty"`
	Noise   float64 `json:"noise,omitempty"` // simulator only
}

func (s *Server) connect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	poll := time.Duration(req.PollMs) * time.Millisecond
	var err error
	switch req.Mode {
	case "sim":
		err = s.ctrl.StartSimulated(control.SimulatedConfig{
			Sim:          quantum.SimConfig{Noise: req.Noise},
			PollInterval: poll,
			Unit:         req.Unit,
		})
	case "real":
		if req.Port == "" {
			httputil.BadRequest(w, "missing serial port path")
			return
		}
		err = s.ctrl.StartReal(control.RealConfig{
			Port:         req.Port,
			Options:      serialport.Options{BaudRate: req.Baud},
			Address:      req.Address,
			PollInterval: poll,
			Unit:         req.Unit,
		})
	default:
		httputil.BadRequest(w, fmt.Sprintf("unknown mode %q: expected real or sim", req.Mode))
		return
	}

	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, control.ErrAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, quantum.ErrConnectFailed):
			status = http.StatusBadGateway
		}
		httputil.WriteJSONError(w, status, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) disconnect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.ctrl.Stop(); err != nil {
		if errors.Is(err, control.ErrNotRunning) {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

// unitRequest is the body of POST /api/unit.
type unitRequest struct {
	Unit   string `json:"unit"`
	PollMs int64  `json:"poll_ms,omitempty"`
}

func (s *Server) changeUnit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req unitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if !units.IsValid(units.Normalize(req.Unit)) {
		httputil.BadRequest(w, fmt.Sprintf("unsupported unit %q: valid units are %s", req.Unit, units.GetValidUnitsString()))
		return
	}

	if err := s.ctrl.ChangeUnit(req.Unit, time.Duration(req.PollMs)*time.Millisecond); err != nil {
		if errors.Is(err, control.ErrNotRunning) {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, s.ctrl.Status())
}

func (s *Server) sendCommandHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	command := r.FormValue("command")
	if command == "" {
		httputil.BadRequest(w, "missing command")
		return
	}

	reply, err := s.ctrl.SendCommand(command)
	if err != nil {
		if errors.Is(err, control.ErrNotRunning) {
			httputil.WriteJSONError(w, http.StatusConflict, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("failed to send command: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"command": command, "reply": reply})
}

package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaclab-data/pressure.report/internal/monitoring"
	"github.com/vaclab-data/pressure.report/internal/sampler"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // the dashboard is served from the same process
	},
}

// liveEvent is the JSON frame pushed to SSE and websocket consumers.
type liveEvent struct {
	Time        string   `json:"time"`
	Unit        string   `json:"unit,omitempty"`
	Pressure    *float64 `json:"pressure,omitempty"`
	Temperature *float64 `json:"temperature,omitempty"`
	Error       string   `json:"error,omitempty"`
}

func (s *Server) liveEventFor(u sampler.Update) liveEvent {
	ev := liveEvent{
		Time: time.Now().UTC().Format(time.RFC3339),
		Unit: s.ctrl.Status().Unit,
	}
	if u.Err != nil {
		ev.Error = u.Err.Error()
		return ev
	}
	p, t := u.Measurement.Pressure, u.Measurement.Temperature
	ev.Pressure = &p
	ev.Temperature = &t
	return ev
}

// streamLive serves GET /api/live as a Server-Sent Events stream of sample
// frames. One event per poll; a terminal error frame carries the failure.
func (s *Server) streamLive(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

	id, c := s.ctrl.Broadcaster().Subscribe()
	defer s.ctrl.Broadcaster().Unsubscribe(id)

	// Send initial ping to establish connection
	w.Write([]byte(": ping\n\n"))
	w.(http.Flusher).Flush()

	for {
		select {
		case u, ok := <-c:
			if !ok {
				return
			}
			payload, err := json.Marshal(s.liveEventFor(u))
			if err != nil {
				monitoring.Logf("api: failed to encode live event: %v", err)
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
			w.(http.Flusher).Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// streamLiveWS serves GET /api/live/ws: the same frames as /api/live over a
// websocket for consumers that want bidirectional framing.
func (s *Server) streamLiveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		monitoring.Logf("api: websocket upgrade error: %v", err)
		return
	}
	defer conn.Close()

	id, c := s.ctrl.Broadcaster().Subscribe()
	defer s.ctrl.Broadcaster().Unsubscribe(id)

	// Drain client frames so pings/close handshakes are processed; the
	// stream is one-way otherwise.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case u, ok := <-c:
			if !ok {
				return
			}
			if err := conn.WriteJSON(s.liveEventFor(u)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}

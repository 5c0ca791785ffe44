// Package web serves a live view of an episode: the map as JSON or XML, the
// latest snapshot, and a websocket stream of every recorded tick.
package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"navsim-go/geom"
	"navsim-go/monitoring"
	"navsim-go/sim"
	"navsim-go/world"
)

// Envelope wraps every websocket message.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

const (
	TypeMap    = "map"
	TypeTick   = "tick"
	TypeResult = "result"
)

// MapView is the geometry a viewer needs to draw the world.
type MapView struct {
	Bounds    world.Rect       `json:"bounds"`
	Start     geom.Pose        `json:"start"`
	Walls     []world.Wall     `json:"walls"`
	Landmarks []world.Landmark `json:"landmarks"`
	Markers   []geom.Vec       `json:"markers"`
}

func viewOf(m *world.Map) MapView {
	v := MapView{
		Bounds:    m.Bounds(),
		Start:     m.StartPose(),
		Walls:     m.Walls(),
		Landmarks: m.Landmarks(),
	}
	for _, mk := range m.Markers() {
		v.Markers = append(v.Markers, mk.Pos)
	}
	return v
}

// Server implements sim.Recorder so it can be attached to an episode or fed
// by a replay.
type Server struct {
	Hub *Hub

	mu      sync.RWMutex
	view    *MapView
	mapXML  []byte
	last    *sim.Snapshot
	result  *sim.Result
	history *sim.History
}

func NewServer() *Server {
	return &Server{
		Hub:     NewHub(),
		history: sim.NewHistory(600),
	}
}

// SetMap publishes the geometry of m and announces it to connected viewers.
func (s *Server) SetMap(m *world.Map) error {
	v := viewOf(m)
	var buf bytes.Buffer
	if err := m.WriteXML(&buf); err != nil {
		return err
	}
	s.mu.Lock()
	s.view = &v
	s.mapXML = buf.Bytes()
	s.last, s.result = nil, nil
	s.history = sim.NewHistory(600)
	s.mu.Unlock()
	return s.Hub.BroadcastJSON(Envelope{Type: TypeMap, Data: v})
}

func (s *Server) Record(snap sim.Snapshot) error {
	s.mu.Lock()
	s.last = &snap
	s.history.Record(snap)
	s.mu.Unlock()
	return s.Hub.BroadcastJSON(Envelope{Type: TypeTick, Data: snap})
}

// Finish publishes the final result of an episode.
func (s *Server) Finish(res sim.Result) error {
	s.mu.Lock()
	s.result = &res
	s.mu.Unlock()
	return s.Hub.BroadcastJSON(Envelope{Type: TypeResult, Data: res})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		monitoring.Logf("web: encode response: %v", err)
	}
}

// Handler routes the API and, when staticDir is set, a static frontend.
func (s *Server) Handler(staticDir string) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		serveWs(s.Hub, w, r)
	})
	mux.HandleFunc("GET /api/map", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		v := s.view
		s.mu.RUnlock()
		if v == nil {
			http.Error(w, "no map loaded", http.StatusNotFound)
			return
		}
		writeJSON(w, v)
	})
	mux.HandleFunc("GET /api/map.xml", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		b := s.mapXML
		s.mu.RUnlock()
		if b == nil {
			http.Error(w, "no map loaded", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/xml")
		w.Write(b)
	})
	mux.HandleFunc("GET /api/snapshot", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		last := s.last
		s.mu.RUnlock()
		if last == nil {
			http.Error(w, "no ticks yet", http.StatusNotFound)
			return
		}
		writeJSON(w, last)
	})
	mux.HandleFunc("GET /api/trail", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		truth, est := s.history.Paths()
		s.mu.RUnlock()
		writeJSON(w, map[string][]geom.Vec{"truth": truth, "estimate": est})
	})
	mux.HandleFunc("GET /api/result", func(w http.ResponseWriter, r *http.Request) {
		s.mu.RLock()
		res := s.result
		s.mu.RUnlock()
		if res == nil {
			http.Error(w, "episode still running", http.StatusNotFound)
			return
		}
		writeJSON(w, res)
	})
	mux.HandleFunc("GET /api/stats", func(w http.ResponseWriter, r *http.Request) {
		sent, dropped := s.Hub.Stats()
		writeJSON(w, map[string]int64{
			"viewers": int64(s.Hub.ClientCount()),
			"sent":    sent,
			"dropped": dropped,
		})
	})

	if staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}
	return mux
}

// Serve listens on addr until ctx is cancelled. ready, when not nil,
// receives the bound address once the listener is up.
func (s *Server) Serve(ctx context.Context, addr, staticDir string, ready chan<- net.Addr) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go s.Hub.Run()
	defer s.Hub.Stop()

	srv := &http.Server{Handler: s.Handler(staticDir), ReadHeaderTimeout: 5 * time.Second}
	monitoring.Logf("web: listening on %s", ln.Addr())
	if ready != nil {
		ready <- ln.Addr()
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

// KeyEvent is what a viewer sends to drive a ManualController.
type KeyEvent struct {
	Key  string `json:"key"`
	Down bool   `json:"down"`
}

// KeyHandler decodes viewer key events into m. It is meant for Hub.OnMessage.
func KeyHandler(m *sim.ManualController) func([]byte) {
	return func(msg []byte) {
		var ev KeyEvent
		if err := json.Unmarshal(msg, &ev); err != nil || len(ev.Key) != 1 {
			return
		}
		m.KeyCommand(rune(ev.Key[0]), ev.Down)
	}
}

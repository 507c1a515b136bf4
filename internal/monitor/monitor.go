// Package monitor serves a websocket feed of session events, for a local UI
// or a curious developer with wscat.
package monitor

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lanikai/alohacast/internal/logging"
	"github.com/lanikai/alohacast/internal/media"
)

var log = logging.DefaultLogger.WithTag("monitor")

const (
	// Events queued per websocket client before the oldest are dropped.
	clientQueueLength = 64

	writeTimeout = 5 * time.Second
)

// Event is one JSON message on the feed, e.g.
//
//	{"session":"6f1c...","kind":"state","state":"Streaming","time":"..."}
type Event struct {
	Session string    `json:"session"`
	Kind    string    `json:"kind"`
	State   string    `json:"state,omitempty"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Server fans events out to every connected websocket. The latest state
// event of each session is replayed to new clients.
type Server struct {
	flow     media.Flow
	upgrader websocket.Upgrader
	server   *http.Server

	mu     sync.Mutex
	latest map[string][]byte
}

func New() *Server {
	s := &Server{
		latest: make(map[string][]byte),
	}
	s.flow.Capacity = clientQueueLength
	return s
}

// Handler routes GET /events.
func (s *Server) Handler() http.Handler {
	router := http.NewServeMux()
	router.HandleFunc("/events", s.handleEvents)
	return router
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	s.mu.Lock()
	s.server = &http.Server{Handler: s.Handler()}
	srv := s.server
	s.mu.Unlock()

	log.Info("Serving events on ws://%s/events", l.Addr())
	err := srv.Serve(l)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// ListenAndServe is Serve on a new TCP listener.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown disconnects all clients and stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.flow.Close()

	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Publish sends ev to every client.
func (s *Server) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		log.Error("marshal %+v: %v", ev, err)
		return
	}

	if ev.Kind == "state" {
		s.mu.Lock()
		s.latest[ev.Session] = data
		s.mu.Unlock()
	}
	s.flow.Write(data)
}

func (s *Server) snapshot() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	sessions := make([]string, 0, len(s.latest))
	for id := range s.latest {
		sessions = append(sessions, id)
	}
	sort.Strings(sessions)

	out := make([][]byte, len(sessions))
	for i, id := range sessions {
		out[i] = s.latest[id]
	}
	return out
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("upgrade: %v", err)
		return
	}
	defer ws.Close()

	key := r.RemoteAddr
	events, created := s.flow.Subscribe(key)
	if !created {
		log.Warn("Duplicate websocket client %s", key)
		return
	}
	defer s.flow.Unsubscribe(key)
	log.Debug("Client %s connected", key)

	// The feed is one-way; reading only detects the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := ws.NextReader(); err != nil {
				return
			}
		}
	}()

	write := func(data []byte) error {
		ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		return ws.WriteMessage(websocket.TextMessage, data)
	}

	for _, data := range s.snapshot() {
		if err := write(data); err != nil {
			return
		}
	}

	for {
		select {
		case data, ok := <-events:
			if !ok {
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(time.Second))
				return
			}
			if err := write(data); err != nil {
				log.Debug("Client %s: %v", key, err)
				return
			}
		case <-gone:
			log.Debug("Client %s disconnected", key)
			return
		}
	}
}

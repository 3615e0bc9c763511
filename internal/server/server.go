package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"shuttle-realtime/internal/realtime"
	"shuttle-realtime/internal/shuttle"
)

const shutdownTimeout = 10 * time.Second

// Closer is implemented by handlers holding hijacked connections that
// http.Server.Shutdown does not track.
type Closer interface {
	CloseAll()
}

type Server struct {
	router  *realtime.Router
	ws      http.Handler
	feed    http.Handler
	metrics http.Handler
	log     *slog.Logger
	srv     *http.Server
	closers []Closer
}

// New wires the HTTP surface. metricsHandler may be nil.
func New(addr string, router *realtime.Router, ws, feed, metricsHandler http.Handler, log *slog.Logger) *Server {
	s := &Server{
		router:  router,
		ws:      ws,
		feed:    feed,
		metrics: metricsHandler,
		log:     log,
	}
	if c, ok := ws.(Closer); ok {
		s.closers = append(s.closers, c)
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) Routes() http.Handler {
	r := mux.NewRouter()
	r.Handle("/ws", s.ws).Methods(http.MethodGet)
	r.Handle("/api/trips/live", s.feed).Methods(http.MethodGet)
	r.HandleFunc("/internal/trips/{tripId}/status", s.handleTripStatus).Methods(http.MethodPost)
	r.HandleFunc("/internal/admin/events", s.handleAdminEvent).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}
	return r
}

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return s.serve(ctx, ln)
}

func (s *Server) serve(ctx context.Context, ln net.Listener) error {
	// Request contexts hang off base so long-lived streams end on shutdown;
	// Shutdown alone waits for them.
	base, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()
	s.srv.BaseContext = func(net.Listener) context.Context { return base }

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", ln.Addr().String())
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.log.Info("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	cancelRequests()
	for _, c := range s.closers {
		c.CloseAll()
	}
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return <-errCh
}

func (s *Server) handleTripStatus(w http.ResponseWriter, r *http.Request) {
	tripID := mux.Vars(r)["tripId"]

	var u shuttle.TripUpdate
	if err := json.NewDecoder(r.Body).Decode(&u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid trip update: "+err.Error())
		return
	}
	if u.TripID != "" && u.TripID != tripID {
		writeError(w, http.StatusBadRequest, "tripId does not match path")
		return
	}
	if u.Status == "" {
		writeError(w, http.StatusBadRequest, "status is required")
		return
	}
	u.TripID = tripID

	s.router.OnTripStatusUpdate(u)
	writeJSON(w, http.StatusAccepted, map[string]string{"tripId": tripID, "status": string(u.Status)})
}

type adminEvent struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *Server) handleAdminEvent(w http.ResponseWriter, r *http.Request) {
	var ev adminEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid admin event: "+err.Error())
		return
	}
	if ev.Event == "" {
		writeError(w, http.StatusBadRequest, "event is required")
		return
	}
	var data any
	if len(ev.Data) > 0 {
		data = ev.Data
	}
	n := s.router.PushAdmin(ev.Event, data)
	writeJSON(w, http.StatusAccepted, map[string]int{"delivered": n})
}

type health struct {
	Status string `json:"status"`
	realtime.RegistryStats
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, health{Status: "ok", RegistryStats: s.router.Stats()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

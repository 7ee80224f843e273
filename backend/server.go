package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"midi-daw/midi"
	"midi-daw/musictime"

	"go.uber.org/zap"
)

// Server exposes a Transport over HTTP, the protocol Client speaks.
type Server struct {
	t   Transport
	log *zap.Logger
	mux *http.ServeMux
}

type ServerOption func(*Server)

func WithServerLogger(l *zap.Logger) ServerOption {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithBus mounts the event bus websocket handler at /message-bus.
func WithBus(h http.Handler) ServerOption {
	return func(s *Server) { s.mux.Handle("/message-bus", h) }
}

func NewServer(t Transport, opts ...ServerOption) *Server {
	s := &Server{t: t, log: zap.NewNop(), mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /midi", s.handleMidi)
	s.mux.HandleFunc("GET /midi", s.handleDevices)
	s.mux.HandleFunc("POST /tempo", s.handleSetTempo)
	s.mux.HandleFunc("GET /tempo", s.handleTempo)
	s.mux.HandleFunc("POST /new-dev", s.handleNewDevice)
	s.mux.HandleFunc("POST /rest", s.handleRest)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe serves on a Unix socket until ctx is done. A stale socket
// file left by a previous run is removed first.
func (s *Server) ListenAndServe(ctx context.Context, socket string) error {
	if socket == "" {
		socket = DefaultSocket
	}
	if err := os.Remove(socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", socket)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer os.Remove(socket)

	srv := &http.Server{Handler: s, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.log.Info("backend listening", zap.String("socket", socket))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) fail(w http.ResponseWriter, code int, err error) {
	s.log.Warn("backend request failed", zap.Int("status", code), zap.Error(err))
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (s *Server) handleMidi(w http.ResponseWriter, r *http.Request) {
	var req midi.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.t.Send(r.Context(), req); err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devs, err := s.t.Devices(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	if devs == nil {
		devs = []string{}
	}
	writeJSON(w, devs)
}

func (s *Server) handleSetTempo(w http.ResponseWriter, r *http.Request) {
	var bpm float64
	if err := json.NewDecoder(r.Body).Decode(&bpm); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.t.SetTempo(r.Context(), bpm); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	s.log.Info("tempo set", zap.Float64("bpm", bpm))
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleTempo(w http.ResponseWriter, r *http.Request) {
	bpm, err := s.t.Tempo(r.Context())
	if err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, bpm)
}

func (s *Server) handleNewDevice(w http.ResponseWriter, r *http.Request) {
	var name string
	if err := json.NewDecoder(r.Body).Decode(&name); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.t.NewDevice(r.Context(), name); err != nil {
		s.fail(w, http.StatusBadGateway, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRest(w http.ResponseWriter, r *http.Request) {
	var l musictime.NoteLen
	if err := json.NewDecoder(r.Body).Decode(&l); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	if err := s.t.Rest(r.Context(), l); err != nil {
		s.fail(w, http.StatusBadRequest, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// Package http serves the read-only view API of a running dashboard
// session.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"herd-monitor/dashboard/internal/dashboard"
	"herd-monitor/dashboard/internal/domain"
	"herd-monitor/dashboard/internal/metrics"
)

// Dashboard is what the handlers read from.
type Dashboard interface {
	View(focus string) dashboard.ViewModel
	Route(deviceID string) []domain.Coordinate
	Device(deviceID string) (dashboard.DeviceDetail, bool)
	Geofences() []domain.Geofence
	Reconnect() error
	Alive() bool
}

type Server struct {
	dash Dashboard
	log  zerolog.Logger
	srv  *http.Server
}

func NewServer(addr string, dash Dashboard, keys KeyChecker, log zerolog.Logger) *Server {
	s := &Server{
		dash: dash,
		log:  log.With().Str("component", "view_api").Logger(),
	}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(keys),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) Handler(keys KeyChecker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/view", s.handleView)
	mux.HandleFunc("GET /api/devices/{id}", s.handleDevice)
	mux.HandleFunc("GET /api/devices/{id}/route", s.handleRoute)
	mux.HandleFunc("GET /api/geofences", s.handleGeofences)
	mux.HandleFunc("POST /api/session/reconnect", s.handleReconnect)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	return NewAuthMiddleware(keys, "/healthz").Wrap(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.srv.Addr).Msg("view api listening")
		errc <- s.srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.dash.View(r.URL.Query().Get("focus")))
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	d, ok := s.dash.Device(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "unknown device")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	route := s.dash.Route(r.PathValue("id"))
	if route == nil {
		route = []domain.Coordinate{}
	}
	writeJSON(w, http.StatusOK, route)
}

func (s *Server) handleGeofences(w http.ResponseWriter, r *http.Request) {
	fences := s.dash.Geofences()
	if fences == nil {
		fences = []domain.Geofence{}
	}
	writeJSON(w, http.StatusOK, fences)
}

func (s *Server) handleReconnect(w http.ResponseWriter, r *http.Request) {
	if err := s.dash.Reconnect(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "reconnecting"})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.dash.Alive() {
		writeError(w, http.StatusServiceUnavailable, "session closed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

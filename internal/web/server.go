// Package web exposes the daemon's status snapshot over HTTP.
package web

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/flow-sensor/internal/link"
	"github.com/sweeney/flow-sensor/internal/status"
)

// SnapshotSource supplies the current daemon state.
type SnapshotSource interface {
	Snapshot() status.Snapshot
}

// Server serves read-only status endpoints.
type Server struct {
	httpServer *http.Server
	source     SnapshotSource
	logger     *zap.Logger
}

type healthJSON struct {
	Status string `json:"status"`
	Link   string `json:"link"`
	Uptime int64  `json:"uptime_seconds"`
}

// New creates a Server. / and /index.json return the full snapshot;
// /healthz answers 503 while the link is down.
func New(addr string, source SnapshotSource, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{source: source, logger: logger}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleStatus)
	mux.HandleFunc("/index.json", s.handleStatus)
	mux.HandleFunc("/healthz", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           readOnly(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func readOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" && r.URL.Path != "/index.json" {
		http.NotFound(w, r)
		return
	}
	s.write(w, http.StatusOK, status.FormatJSON(s.source.Snapshot()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.source.Snapshot()
	h := healthJSON{
		Status: "ok",
		Link:   snap.Link.String(),
		Uptime: int64(snap.Uptime().Seconds()),
	}
	code := http.StatusOK
	if snap.Link != link.Connected {
		h.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	data, _ := json.Marshal(h)
	s.write(w, code, data)
}

func (s *Server) write(w http.ResponseWriter, code int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		s.logger.Debug("write response", zap.Error(err))
	}
}

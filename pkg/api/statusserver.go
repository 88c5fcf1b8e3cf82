package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/opencli/daemon/pkg/version"
	"github.com/opencli/daemon/pkg/ws"
)

// StatusServer is the lightweight discovery listener on port 9875. Clients
// on the LAN poll it to find a running daemon before opening a WebSocket.
type StatusServer struct {
	main       *Server
	sessions   *ws.Manager
	logger     *slog.Logger
	httpServer *http.Server
}

func NewStatusServer(main *Server, sessions *ws.Manager, logger *slog.Logger) *StatusServer {
	return &StatusServer{
		main:     main,
		sessions: sessions,
		logger:   logger.With("component", "status-server"),
	}
}

func (s *StatusServer) Start(addr string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.serveStatus)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("status server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

func (s *StatusServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *StatusServer) serveStatus(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"daemon": map[string]any{
			"version":        version.Version,
			"uptime_seconds": int64(s.main.Uptime().Seconds()),
			"memory_mb":      float64(mem.Alloc) / (1024 * 1024),
			"total_requests": s.main.TotalRequests(),
		},
		"mobile": map[string]any{
			"connected_clients": s.sessions.ActiveSessions(),
			"client_ids":        s.sessions.ConnectedDevices(),
		},
		"timestamp": time.Now().UnixMilli(),
	})
}

// WSServer is the plain WebSocket listener on port 9876. It speaks the same
// frame protocol as /ws on the main port and shares the session manager, so
// a device connecting on either port replaces its previous session.
type WSServer struct {
	sessions   *ws.Manager
	logger     *slog.Logger
	httpServer *http.Server
}

func NewWSServer(sessions *ws.Manager, logger *slog.Logger) *WSServer {
	return &WSServer{
		sessions: sessions,
		logger:   logger.With("component", "ws-server"),
	}
}

func (s *WSServer) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.sessions.HTTPHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("websocket server listening", "addr", addr)
	return s.httpServer.ListenAndServe()
}

func (s *WSServer) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

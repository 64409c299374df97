package console

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// ResolveSocketPath returns the socket path for the console server, placed
// alongside the daemon's runtime directory.
func ResolveSocketPath() string {
	if info, err := os.Stat("/run/meshrtrd"); err == nil && info.IsDir() {
		return "/run/meshrtrd/console.sock"
	}
	return "/tmp/meshrtrd/console.sock"
}

// SnapshotProvider returns the current state export (spec §6.5).
type SnapshotProvider func() Snapshot

// Server is an HTTP server listening on a Unix domain socket: GET /snapshot
// returns one Build() result as JSON; GET /live upgrades to a websocket and
// pushes a fresh snapshot every time a subscribed database reports a
// change.
type Server struct {
	socketPath string
	provider   SnapshotProvider
	log        *slog.Logger

	listener   net.Listener
	httpServer *http.Server

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// NewServer constructs a Server. logger may be nil.
func NewServer(socketPath string, provider SnapshotProvider, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		socketPath: socketPath,
		provider:   provider,
		log:        logger.With("component", "console"),
		clients:    make(map[*websocket.Conn]struct{}),
	}
}

// Start begins listening on the Unix socket and serving requests in the
// background. It returns once the listener is ready.
func (s *Server) Start() error {
	dir := filepath.Dir(s.socketPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating socket directory %s: %w", dir, err)
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing stale socket %s: %w", s.socketPath, err)
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.socketPath, err)
	}
	s.listener = ln

	if err := os.Chmod(s.socketPath, 0666); err != nil {
		s.log.Warn("setting socket permissions", "error", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /live", s.handleLive)
	s.httpServer = &http.Server{Handler: mux}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.Error("console server error", "error", err)
		}
	}()

	s.log.Info("console server started", "socket", s.socketPath)
	return nil
}

// Stop gracefully shuts down the server, closes every live-feed connection,
// and removes the socket file.
func (s *Server) Stop() error {
	s.mu.Lock()
	for c := range s.clients {
		_ = c.Close(websocket.StatusGoingAway, "server shutting down")
	}
	s.clients = make(map[*websocket.Conn]struct{})
	s.mu.Unlock()

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Warn("console server shutdown", "error", err)
		}
	}
	if err := os.Remove(s.socketPath); err != nil && !os.IsNotExist(err) {
		s.log.Warn("removing socket file", "error", err)
	}
	s.log.Info("console server stopped")
	return nil
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.provider()); err != nil {
		s.log.Error("encoding snapshot response", "error", err)
	}
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.log.Warn("websocket accept failed", "error", err)
		return
	}
	defer c.Close(websocket.StatusNormalClosure, "")

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	ctx := r.Context()
	if err := s.writeSnapshot(ctx, c); err != nil {
		return
	}

	// Block on reads purely to detect disconnect; the live feed never
	// expects incoming messages.
	for {
		if _, _, err := c.Read(ctx); err != nil {
			return
		}
	}
}

func (s *Server) writeSnapshot(ctx context.Context, c *websocket.Conn) error {
	data, err := json.Marshal(s.provider())
	if err != nil {
		return err
	}
	return c.Write(ctx, websocket.MessageText, data)
}

// Notify pushes a fresh snapshot to every connected live-feed client. Call
// this from a database's change listener (spec §6.5's push feed).
func (s *Server) Notify(ctx context.Context) {
	s.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(s.clients))
	for c := range s.clients {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	if len(conns) == 0 {
		return
	}
	data, err := json.Marshal(s.provider())
	if err != nil {
		s.log.Error("encoding live-feed snapshot", "error", err)
		return
	}
	for _, c := range conns {
		if err := c.Write(ctx, websocket.MessageText, data); err != nil {
			s.log.Debug("live-feed write failed, dropping client", "error", err)
		}
	}
}

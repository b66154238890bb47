// Package server implements the Tagon dev server: component pages, the
// websocket live-reload endpoint, health reporting, and static files. It is
// thin glue over the registry and broadcaster; all compilation lives there.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"

	"github.com/tagon-dev/tagon/internal/config"
	"github.com/tagon-dev/tagon/internal/registry"
	"github.com/tagon-dev/tagon/internal/reload"
	"github.com/tagon-dev/tagon/internal/value"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Dev server: allow all origins
	},
}

// defaultComponent is rendered for the root path.
const defaultComponent = "App"

// Server is the dev HTTP endpoint.
type Server struct {
	config      *config.Config
	registry    *registry.Registry
	broadcaster *reload.Broadcaster
	mux         *http.ServeMux
	httpServer  *http.Server
}

// New wires the dev server over a registry and broadcaster.
func New(cfg *config.Config, reg *registry.Registry, bc *reload.Broadcaster) *Server {
	s := &Server{
		config:      cfg,
		registry:    reg,
		broadcaster: bc,
		mux:         http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

// Log logs a message via the config.
func (s *Server) Log(level int, format string, args ...interface{}) {
	s.config.Log(level, format, args...)
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/", s.handlePage)
	s.mux.HandleFunc("/ws", s.handleWebSocket)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.Handle("/static/", http.StripPrefix("/static/",
		http.FileServer(http.Dir(s.config.Components.StaticDir))))
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// ListenAndServe runs the server until the context is canceled.
func (s *Server) ListenAndServe(ctx context.Context) error {
	s.httpServer = &http.Server{Addr: s.config.Addr(), Handler: s}
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.ListenAndServe()
	}()
	s.Log(1, "server: listening on http://%s", s.config.Addr())

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.httpServer.Shutdown(context.Background())
	}
}

// handlePage renders a component page. "/" serves the App component; any
// other path serves the component of that name.
func (s *Server) handlePage(w http.ResponseWriter, r *http.Request) {
	name := strings.Trim(r.URL.Path, "/")
	if name == "" {
		name = defaultComponent
	}
	if strings.ContainsAny(name, "/.") {
		http.NotFound(w, r)
		return
	}

	markup, styleText, err := s.registry.Get(name, requestContext(r))
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.Log(0, "server: rendering %s: %v", name, err)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(errorPage(err)))
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(componentPage(name, markup, styleText)))
}

// requestContext builds the render context from request-scoped values. The
// context shadows component symbols on name collision.
func requestContext(r *http.Request) map[string]value.Value {
	query := make(map[string]value.Value)
	for k, vs := range r.URL.Query() {
		if len(vs) > 0 {
			query[k] = value.Text(vs[0])
		}
	}
	return map[string]value.Value{
		"request": value.Mapping(map[string]value.Value{
			"path":   value.Text(r.URL.Path),
			"method": value.Text(r.Method),
			"query":  value.Mapping(query),
		}),
	}
}

// handleWebSocket upgrades a connection into a live-reload channel. The
// channel's lifetime is bounded by the client connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Log(0, "server: websocket upgrade failed: %v", err)
		return
	}
	ch := newWSChannel(conn)
	id := s.broadcaster.Add(ch)
	go s.readPump(id, conn)
}

// readPump drains client frames until disconnect, then removes the channel.
func (s *Server) readPump(id string, conn *websocket.Conn) {
	defer s.broadcaster.Remove(id)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.Log(1, "server: websocket error: %v", err)
			}
			return
		}
	}
}

// handleHealth reports engine status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	type componentStatus struct {
		Name  string `json:"name"`
		State string `json:"state"`
		Error string `json:"error,omitempty"`
	}

	components := make([]componentStatus, 0, s.registry.Count())
	for _, name := range s.registry.Names() {
		status := componentStatus{Name: name}
		if a, ok := s.registry.Lookup(name); ok {
			status.State = a.State.String()
			if a.Err != nil {
				status.Error = a.Err.Error()
			}
		}
		components = append(components, status)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":      "ok",
		"components":  components,
		"connections": s.broadcaster.Count(),
		"directories": map[string]string{
			"components": s.config.Components.Dir,
			"static":     s.config.Components.StaticDir,
		},
	})
}

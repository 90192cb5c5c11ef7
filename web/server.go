// Package web serves the HTTP command surface, the JSON status views and the
// live browser streams.
package web

import (
	"context"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"maintlink/catalog"
	"maintlink/config"
	"maintlink/logging"
	"maintlink/plcman"
	"maintlink/status"
)

// Controller is the link supervisor as seen by the web surface.
type Controller interface {
	plcman.Commander
	UpdateAddress(host string)
	OpenSecondaryWindow(sub status.Subscriber) status.SubscriberID
	CloseWindow(id status.SubscriberID)
	State() plcman.State
	Config() config.PLCConfig
	ConnectionMode() string
	Hub() *status.Hub
	Catalog() *catalog.Catalog
}

// Server is the HTTP server. The browser main window is a hub subscriber
// that exists for the lifetime of the Server; every /ws/detail connection is
// a secondary window of its own.
type Server struct {
	cfg     config.WebConfig
	ctl     Controller
	log     *zap.Logger
	router  chi.Router
	events  *eventHub
	subID   status.SubscriberID
	server  *http.Server
	running bool
	closed  bool
	mu      sync.RWMutex

	winMu   sync.Mutex
	windows map[*detailWindow]struct{}
}

// NewServer builds the router and registers the main window with the hub.
// Close releases both.
func NewServer(cfg config.WebConfig, ctl Controller) *Server {
	s := &Server{
		cfg:     cfg,
		ctl:     ctl,
		log:     logging.Named("web"),
		events:  newEventHub(),
		windows: make(map[*detailWindow]struct{}),
	}
	s.subID = ctl.Hub().Subscribe(s.events)
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(corsMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Post("/connect", s.handleConnect)
		r.Post("/reconnect", s.handleReconnect)
		r.Post("/disconnect", s.handleDisconnect)
		r.Put("/address", s.handleAddress)
		r.Get("/outputs", s.handleOutputs)
		r.Post("/outputs/{name}/toggle", s.handleToggle)
		r.Get("/status", s.handleStatus)
		r.Get("/history", s.handleHistory)
		r.Get("/events", s.handleSSE)
	})
	r.Get("/ws/detail", s.handleDetail)

	s.router = r
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// debugLogWriter adapts logging.DebugLog to an io.Writer for use with log.Logger.
type debugLogWriter string

func (tag debugLogWriter) Write(p []byte) (n int, err error) {
	logging.DebugLog(string(tag), "%s", string(p))
	return len(p), nil
}

var _ io.Writer = debugLogWriter("")

// corsMiddleware adds CORS headers for API access.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Start begins listening on the configured address.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	ln, err := net.Listen("tcp", s.Address())
	if err != nil {
		return err
	}
	s.server = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          log.New(debugLogWriter("web"), "", 0),
	}

	srv := s.server
	go func() {
		if err := srv.Serve(ln); err != http.ErrServerClosed {
			s.log.Error("http server stopped", zap.Error(err))
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
		}
	}()

	s.running = true
	s.log.Info("web server listening", zap.String("address", ln.Addr().String()))
	return nil
}

// Stop ends the streams first so Shutdown is not held up by open SSE
// responses, then stops the listener.
func (s *Server) Stop() error {
	s.Close()

	s.mu.Lock()
	var err error
	if s.running && s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err = s.server.Shutdown(ctx)
		cancel()
	}
	s.running = false
	s.server = nil
	s.mu.Unlock()
	return err
}

// Close unsubscribes the main window, ends every SSE stream and closes every
// detail window.
func (s *Server) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	s.ctl.Hub().Unsubscribe(s.subID)
	s.events.Stop()

	s.winMu.Lock()
	windows := make([]*detailWindow, 0, len(s.windows))
	for w := range s.windows {
		windows = append(windows, w)
	}
	s.winMu.Unlock()
	for _, w := range windows {
		w.close()
	}
}

// IsRunning returns whether the server is currently running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Address returns the listen address.
func (s *Server) Address() string {
	return net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
}

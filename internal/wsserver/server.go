package wsserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/codefionn/conicbridge/internal/consts"
	"github.com/codefionn/conicbridge/internal/logger"
	"github.com/codefionn/conicbridge/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
	"golang.org/x/net/netutil"
)

// Handler turns one inbound message into exactly one reply.
type Handler interface {
	HandleMessage(ctx context.Context, msg []byte) []byte
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg []byte) []byte

func (f HandlerFunc) HandleMessage(ctx context.Context, msg []byte) []byte {
	return f(ctx, msg)
}

// BinaryHandler is implemented by handlers that accept binary frames which
// are not valid UTF-8. Other handlers get an error reply for such frames.
type BinaryHandler interface {
	HandleBinary(ctx context.Context, msg []byte) []byte
}

// Server accepts WebSocket connections and relays every message to a Handler.
type Server struct {
	addr       string
	handler    Handler
	hub        *Hub
	upgrader   websocket.Upgrader
	httpServer *http.Server
	started    time.Time
	maxConns   int

	stopOnce sync.Once
	stopErr  error

	mu       sync.Mutex
	listener net.Listener
	ctx      context.Context
	cancel   context.CancelFunc
	serveErr chan error
}

// healthResponse is served on /healthz.
type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Accepted    uint64 `json:"accepted"`
	Uptime      string `json:"uptime"`
}

// NewServer creates a server that will bind addr ("host:port").
func NewServer(addr string, handler Handler) *Server {
	s := &Server{
		addr:    addr,
		handler: handler,
		hub:     NewHub(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  consts.BufferSize4KB,
			WriteBufferSize: consts.BufferSize4KB,
			// Local bridge; browsers served from any origin may connect.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	s.httpServer = &http.Server{
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          logger.NewStdLogger(logger.Global().WithPrefix("http"), slog.LevelWarn),
	}
	return s
}

// WithMaxConnections caps simultaneously open connections. Further clients
// wait in the accept backlog. Zero means no cap. Call before serving.
func (s *Server) WithMaxConnections(n int) *Server {
	s.maxConns = n
	return s
}

// Routes returns the HTTP handler with every endpoint registered.
func (s *Server) Routes() http.Handler {
	router := httprouter.New()
	router.GET("/ws", s.handleWebSocket)
	router.GET("/", s.handleIndex)
	router.GET("/healthz", s.handleHealth)
	return router
}

// Hub exposes the connection registry.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Start binds the listener and serves in the background. A bind failure is
// returned to the caller.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to bind %s: %w", s.addr, err)
	}

	errCh := make(chan error, 1)
	s.mu.Lock()
	s.listener = ln
	s.serveErr = errCh
	s.mu.Unlock()

	go func() {
		errCh <- s.Serve(ctx, ln)
	}()
	return nil
}

// Serve accepts connections on ln until Stop is called or ctx is done.
// Transient accept failures are logged and retried by net/http.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if s.maxConns > 0 {
		ln = netutil.LimitListener(ln, s.maxConns)
	}

	s.mu.Lock()
	s.listener = ln
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.started = time.Now()
	connCtx := s.ctx
	s.mu.Unlock()

	stop := context.AfterFunc(connCtx, func() {
		if err := s.Stop(); err != nil {
			logger.Warn("WebSocket server shutdown: %v", err)
		}
	})
	defer stop()

	logger.Info("WebSocket server listening on ws://%s/ws", ln.Addr())
	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Wait blocks until a server started with Start has stopped serving.
func (s *Server) Wait() error {
	s.mu.Lock()
	errCh := s.serveErr
	s.mu.Unlock()
	if errCh == nil {
		return nil
	}
	return <-errCh
}

// Addr returns the bound address, or the configured one before binding.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop closes the listener and every live connection. In-flight backend
// invocations see their context cancelled. Calling Stop again is a no-op.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()
		if cancel != nil {
			cancel()
		}

		logger.Info("Stopping WebSocket server...")

		ctx, done := context.WithTimeout(context.Background(), consts.ShutdownTimeout)
		defer done()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.stopErr = fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}

		// Hijacked connections are not tracked by net/http.
		s.hub.CloseAll()
	})
	return s.stopErr
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	// Plain clients connect to the bare address.
	if websocket.IsWebSocketUpgrade(r) {
		s.handleWebSocket(w, r, ps)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "conicbridge: connect a WebSocket client to ws://%s/ws\n", r.Host)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	resp := healthResponse{
		Status:      protocol.StatusOK,
		Connections: s.hub.Count(),
		Accepted:    s.hub.Total(),
		Uptime:      time.Since(started).Truncate(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Debug("healthz write failed: %v", err)
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader already replied with an HTTP error.
		logger.Warn("WebSocket upgrade failed from %s: %v", r.RemoteAddr, err)
		return
	}

	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		// Mounted without Serve; the request context ends with this handler.
		ctx = context.WithoutCancel(r.Context())
	}

	client := newClient(ctx, s.hub, conn, s.handler)
	s.hub.Register(client)
	logger.Info("Client connected: %s from %s", client.ID, r.RemoteAddr)

	// Lost the race with Stop.
	if ctx.Err() != nil {
		client.Close()
	}

	go client.writePump()

	// Queued before the read loop starts, so it is always the first frame.
	client.queue(protocol.ConnectedEvent())

	go func() {
		client.readPump()
		<-client.Done()
		logger.Info("Client disconnected: %s", client.ID)
	}()
}

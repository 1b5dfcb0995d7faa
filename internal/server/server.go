// Package server constructs and runs the presence service: the TCP acceptor,
// the optional HTTP side-channel, and coordinated shutdown of all sessions.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	minAcceptBackoff = 5 * time.Millisecond
	maxAcceptBackoff = time.Second
)

// Server accepts connections and runs one Session per connection. The
// Registry and Broadcaster are owned by the Server and shared with every
// session it creates.
type Server struct {
	cfg         Config
	logger      *slog.Logger
	registry    *Registry
	broadcaster *Broadcaster

	listener     net.Listener
	httpListener net.Listener
	httpServer   *http.Server

	closeOnce sync.Once

	mu       sync.Mutex
	sessions map[*Session]struct{}
	closing  bool
	wg       sync.WaitGroup
}

// New creates a Server from cfg. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = sanitizeConfig(cfg)
	registry := NewRegistry(cfg.MaxSessions, cfg.UniqueNames)

	return &Server{
		cfg:         cfg,
		logger:      logger,
		registry:    registry,
		broadcaster: NewBroadcaster(registry, cfg.AnnounceUser, logger),
		sessions:    make(map[*Session]struct{}),
	}
}

// Registry returns the registry shared by the server's sessions.
func (s *Server) Registry() *Registry {
	return s.registry
}

// SessionCount returns the number of registered sessions.
func (s *Server) SessionCount() int {
	return s.registry.Len()
}

// Start binds the TCP listener and, when configured, the HTTP listener.
// Bind failures are returned so the caller can exit with a diagnostic.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.ListenAddr())
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr(), err)
	}
	s.listener = ln

	if s.cfg.HTTPAddr != "" {
		httpLn, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("listen on %s: %w", s.cfg.HTTPAddr, err)
		}
		s.httpListener = httpLn
		s.httpServer = CreateServer(s.cfg.HTTPAddr, s.SetupRoutes())
	}

	s.logger.Info("presence server listening", "addr", ln.Addr().String())
	if s.httpListener != nil {
		s.logger.Info("http side-channel listening", "addr", s.httpListener.Addr().String())
	}
	return nil
}

// Addr returns the bound TCP address, or nil before Start.
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// HTTPAddr returns the bound HTTP address, or nil when the side-channel is off.
func (s *Server) HTTPAddr() net.Addr {
	if s.httpListener == nil {
		return nil
	}
	return s.httpListener.Addr()
}

// Serve accepts connections until ctx is cancelled or a listener fails.
// It does not wait for sessions; call Shutdown for that.
func (s *Server) Serve(ctx context.Context) error {
	if s.listener == nil {
		return errors.New("server not started")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return s.acceptLoop(gctx)
	})

	if s.httpServer != nil {
		g.Go(func() error {
			if err := s.httpServer.Serve(s.httpListener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("http server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.closeListeners()
		return nil
	})

	return g.Wait()
}

// Run starts the server, serves until ctx is done and shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}
	serveErr := s.Serve(ctx)
	if err := s.Shutdown(s.cfg.ShutdownTimeout); err != nil {
		return errors.Join(serveErr, err)
	}
	return serveErr
}

func (s *Server) acceptLoop(ctx context.Context) error {
	backoff := time.Duration(0)
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			backoff = nextBackoff(backoff)
			s.logger.Warn("accept failed; retrying", "error", err, "backoff", backoff)
			select {
			case <-time.After(backoff):
				continue
			case <-ctx.Done():
				return nil
			}
		}
		backoff = 0

		s.logger.Debug("connection accepted", "addr", conn.RemoteAddr().String())
		s.startSession(conn)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current == 0 {
		return minAcceptBackoff
	}
	return min(current*2, maxAcceptBackoff)
}

// startSession runs a session for conn on its own goroutine. Connections
// arriving during shutdown are closed immediately.
func (s *Server) startSession(conn Conn) {
	session := newSession(conn, s.registry, s.broadcaster, s.cfg, s.logger)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		_ = conn.Close()
		return
	}
	s.sessions[session] = struct{}{}
	s.wg.Add(1)
	s.mu.Unlock()

	go func() {
		defer s.wg.Done()
		defer s.forget(session)
		session.Serve()
	}()
}

func (s *Server) forget(session *Session) {
	s.mu.Lock()
	delete(s.sessions, session)
	s.mu.Unlock()
}

func (s *Server) closeListeners() {
	s.closeOnce.Do(s.doCloseListeners)
}

func (s *Server) doCloseListeners() {
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			s.logger.Warn("error closing listener", "error", err)
		}
	}
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.logger.Warn("http server shutdown error", "error", err)
		}
	}
}

// Shutdown stops accepting, closes every live session and waits for their
// goroutines to finish, or returns context.DeadlineExceeded after timeout.
func (s *Server) Shutdown(timeout time.Duration) error {
	s.logger.Info("shutting down presence server")
	s.closeListeners()

	s.mu.Lock()
	s.closing = true
	sessions := make([]*Session, 0, len(s.sessions))
	for session := range s.sessions {
		sessions = append(sessions, session)
	}
	s.mu.Unlock()

	for _, session := range sessions {
		session.Close()
	}
	s.logger.Info("closed sessions", "count", len(sessions))

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("shutdown completed")
		return nil
	case <-time.After(timeout):
		s.logger.Warn("shutdown timeout reached, some sessions may still be running")
		return context.DeadlineExceeded
	}
}

// CreateServer creates an HTTP server for the side-channel. Only header reads
// are bounded since upgraded WebSocket connections live as long as the session.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

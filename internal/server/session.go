// Package server manages individual client sessions, handling the identity
// handshake, read/write loops, rate limiting, and teardown for each connection.
package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Tyrowin/gopresence/internal/protocol"
)

const readBufferSize = 1024

// Conn is the byte stream a session runs over. *net.TCPConn satisfies it
// directly; WebSocket connections are adapted by wsConn.
type Conn interface {
	io.ReadWriteCloser
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	RemoteAddr() net.Addr
}

// Session represents one connected user. The read loop runs on the goroutine
// that calls Serve; a second goroutine drains the outbound queue.
type Session struct {
	id       string
	conn     Conn
	addr     string
	user     string
	joinedAt time.Time

	registry    *Registry
	broadcaster *Broadcaster
	cfg         Config
	logger      *slog.Logger
	limiter     *frameLimiter
	decoder     *protocol.Decoder
	readBuf     []byte

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	leaveOnce sync.Once
}

func newSession(conn Conn, registry *Registry, broadcaster *Broadcaster, cfg Config, logger *slog.Logger) *Session {
	id := uuid.NewString()
	addr := "unknown"
	if remote := conn.RemoteAddr(); remote != nil {
		addr = remote.String()
	}

	s := &Session{
		id:          id,
		conn:        conn,
		addr:        addr,
		registry:    registry,
		broadcaster: broadcaster,
		cfg:         cfg,
		logger:      logger.With("session", id, "addr", addr),
		limiter:     newFrameLimiter(cfg.RateLimit),
		decoder:     protocol.NewDecoder(cfg.MaxFrameSize),
		readBuf:     make([]byte, readBufferSize),
		send:        make(chan []byte, cfg.SendBufferSize),
		done:        make(chan struct{}),
	}
	s.decoder.OnMalformed = func(line []byte, err error) {
		s.logger.Debug("dropping malformed frame", "error", err, "bytes", len(line))
	}
	return s
}

// ID returns the opaque session identifier.
func (s *Session) ID() string {
	return s.id
}

// User returns the identifier chosen at handshake, empty before it completes.
func (s *Session) User() string {
	return s.user
}

// Serve runs the session to completion: handshake, registration, join
// announcement, read loop and teardown. It returns after the write loop has
// stopped as well.
func (s *Session) Serve() {
	defer s.Close()

	user, err := s.handshake()
	if err != nil {
		s.logHandshakeError(err)
		return
	}
	s.user = user
	s.joinedAt = time.Now()

	if err := s.registry.Register(s); err != nil {
		s.reject(err)
		return
	}
	s.logger.Info("session joined", "user", s.user, "sessions", s.registry.Len())

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.broadcaster.Announce(fmt.Sprintf("%s connected.", s.user), s)
	s.readLoop()
	s.teardown()
	<-writerDone
}

// handshake returns the first non-blank line, trimmed, as the user identifier.
func (s *Session) handshake() (string, error) {
	if s.cfg.HandshakeTimeout > 0 {
		if err := s.conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
			return "", fmt.Errorf("set handshake deadline: %w", err)
		}
		defer func() {
			if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
				s.logger.Debug("clearing handshake deadline failed", "error", err)
			}
		}()
	}

	var readErr error
	for {
		for {
			line, ok := s.decoder.Line()
			if !ok {
				break
			}
			if user := strings.TrimSpace(string(line)); user != "" {
				return user, nil
			}
		}
		if readErr != nil {
			return "", readErr
		}

		n, err := s.conn.Read(s.readBuf)
		if n > 0 {
			if _, werr := s.decoder.Write(s.readBuf[:n]); werr != nil {
				return "", werr
			}
		}
		readErr = err
	}
}

func (s *Session) logHandshakeError(err error) {
	switch {
	case errors.Is(err, protocol.ErrLineTooLong):
		s.logger.Warn("handshake line too long", "limit", s.cfg.MaxFrameSize)
	case isTimeout(err):
		s.logger.Info("handshake timed out", "timeout", s.cfg.HandshakeTimeout)
	case isExpectedCloseError(err):
		s.logger.Debug("connection closed before handshake", "error", err)
	default:
		s.logger.Warn("handshake failed", "error", err)
	}
}

// reject tells the client why it was not admitted. The write is best effort.
func (s *Session) reject(err error) {
	s.logger.Info("rejecting session", "user", s.user, "error", err)

	reason := err.Error()
	if errors.Is(err, ErrNameTaken) {
		reason = fmt.Sprintf("name %q is already in use", s.user)
	}
	payload, encErr := protocol.Encode(protocol.Message(s.cfg.AnnounceUser, reason))
	if encErr != nil {
		return
	}
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		return
	}
	if _, err := s.conn.Write(payload); err != nil && !isExpectedCloseError(err) {
		s.logger.Debug("writing rejection failed", "error", err)
	}
}

func (s *Session) readLoop() {
	for {
		for _, f := range s.decoder.Frames() {
			s.route(f)
		}

		n, err := s.conn.Read(s.readBuf)
		if n > 0 {
			if _, werr := s.decoder.Write(s.readBuf[:n]); werr != nil {
				s.logger.Warn("closing session", "user", s.user, "error", werr)
				return
			}
		}
		if err != nil {
			for _, f := range s.decoder.Frames() {
				s.route(f)
			}
			s.handleReadError(err)
			return
		}
	}
}

// route stamps the frame with the session's identity and fans it out to every
// other session. Position frames update the registry first.
func (s *Session) route(f protocol.Frame) {
	if s.limiter != nil && !s.limiter.allow() {
		s.logger.Debug("rate limit exceeded; dropping frame",
			"user", s.user, "type", f.Type,
			"burst", s.cfg.RateLimit.Burst, "interval", s.cfg.RateLimit.RefillInterval)
		return
	}

	// The handshake identity is authoritative over whatever the client wrote.
	f.User = s.user
	if f.Type == protocol.TypePosition {
		s.registry.UpdatePosition(s, Position{X: f.X, Y: f.Y})
	}
	s.broadcaster.Broadcast(f, s)
}

// handleReadError logs the reason the read loop stopped.
func (s *Session) handleReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		s.logger.Info("peer closed connection", "user", s.user)
	case isExpectedCloseError(err):
		s.logger.Info("connection closed", "user", s.user, "error", err)
	default:
		s.logger.Warn("read error", "user", s.user, "error", err)
	}
}

// teardown runs once per registered session: it closes the connection,
// removes the session from the registry and announces the departure to
// everyone still connected.
func (s *Session) teardown() {
	s.leaveOnce.Do(func() {
		s.Close()
		if !s.registry.Unregister(s) {
			return
		}
		s.logger.Info("session left", "user", s.user, "sessions", s.registry.Len())
		s.broadcaster.Announce(fmt.Sprintf("%s disconnected.", s.user), nil)
	})
}

// Close closes the connection and stops the write loop. It is safe to call
// from any goroutine and any number of times; the read loop notices the
// closed connection and runs teardown on its own goroutine.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.logger.Debug("error closing connection", "error", err)
		}
	})
}

func (s *Session) closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// enqueue queues payload without blocking. It reports false when the session
// is closed or its queue is full.
func (s *Session) enqueue(payload []byte) bool {
	if s.closed() {
		return false
	}
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

func (s *Session) writeLoop() {
	for {
		select {
		case <-s.done:
			return
		case payload := <-s.send:
			if !s.write(payload) {
				s.Close()
				return
			}
		}
	}
}

// write sends payload plus anything queued behind it in one write, bounded
// by the write timeout.
func (s *Session) write(payload []byte) bool {
	batch := s.coalesce(payload)

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout)); err != nil {
		s.logger.Debug("error setting write deadline", "user", s.user, "error", err)
		return false
	}
	if _, err := s.conn.Write(batch); err != nil {
		if isExpectedCloseError(err) {
			s.logger.Debug("write to closed connection", "user", s.user, "error", err)
		} else {
			s.logger.Warn("write failed; dropping peer", "user", s.user, "error", err)
		}
		return false
	}
	return true
}

func (s *Session) coalesce(payload []byte) []byte {
	n := len(s.send)
	if n == 0 {
		return payload
	}
	batch := append([]byte(nil), payload...)
	for i := 0; i < n; i++ {
		batch = append(batch, <-s.send...)
	}
	return batch
}

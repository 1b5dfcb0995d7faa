package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/gopresence/internal/protocol"
)

const (
	frameTimeout   = 2 * time.Second
	silencePeriod  = 200 * time.Millisecond
	announceServer = "SERVER"
)

func testLogger() *slog.Logger {
	if os.Getenv("PRESENCE_TEST_LOG") != "" {
		return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() Config {
	cfg := *NewConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = "0"
	cfg.ShutdownTimeout = 2 * time.Second
	return cfg
}

// startTestServer starts a server on a loopback port and shuts it down when
// the test ends.
func startTestServer(t *testing.T, configure func(*Config)) *Server {
	t.Helper()

	cfg := testConfig()
	if configure != nil {
		configure(&cfg)
	}

	srv := New(cfg, testLogger())
	if err := srv.Start(); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() {
		served <- srv.Serve(ctx)
	}()

	t.Cleanup(func() {
		cancel()
		if err := <-served; err != nil {
			t.Errorf("Serve() returned error: %v", err)
		}
		if err := srv.Shutdown(2 * time.Second); err != nil {
			t.Errorf("Shutdown() failed: %v", err)
		}
	})
	return srv
}

// waitForSessions polls until the server has exactly n registered sessions.
func waitForSessions(t *testing.T, srv *Server, n int) {
	t.Helper()

	deadline := time.Now().Add(frameTimeout)
	for time.Now().Before(deadline) {
		if srv.SessionCount() == n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("expected %d sessions, have %d", n, srv.SessionCount())
}

// testPeer is a raw TCP client that speaks the line protocol by hand.
type testPeer struct {
	name   string
	conn   net.Conn
	reader *bufio.Reader
}

func dialRaw(t *testing.T, srv *Server) *testPeer {
	t.Helper()

	conn, err := net.DialTimeout("tcp", srv.Addr().String(), frameTimeout)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &testPeer{conn: conn, reader: bufio.NewReader(conn)}
}

// join connects, sends the handshake and waits until the session is registered.
func join(t *testing.T, srv *Server, name string) *testPeer {
	t.Helper()

	before := srv.SessionCount()
	p := dialRaw(t, srv)
	p.name = name
	p.writeString(t, name+"\n")
	waitForSessions(t, srv, before+1)
	return p
}

// joinAndAnnounce joins name and consumes the join announcement at each
// already-connected peer.
func joinAndAnnounce(t *testing.T, srv *Server, name string, existing ...*testPeer) *testPeer {
	t.Helper()

	p := join(t, srv, name)
	for _, other := range existing {
		other.expectFrame(t, protocol.Message(announceServer, name+" connected."))
	}
	return p
}

func (p *testPeer) writeString(t *testing.T, s string) {
	t.Helper()
	if _, err := p.conn.Write([]byte(s)); err != nil {
		t.Fatalf("%s: write failed: %v", p.name, err)
	}
}

func (p *testPeer) send(t *testing.T, f protocol.Frame) {
	t.Helper()
	data, err := protocol.Encode(f)
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	p.writeString(t, string(data))
}

func (p *testPeer) readFrame(timeout time.Duration) (protocol.Frame, error) {
	if err := p.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return protocol.Frame{}, err
	}
	line, err := p.reader.ReadString('\n')
	if err != nil {
		return protocol.Frame{}, err
	}
	return protocol.Decode([]byte(strings.TrimSuffix(line, "\n")))
}

func (p *testPeer) nextFrame(t *testing.T) protocol.Frame {
	t.Helper()
	f, err := p.readFrame(frameTimeout)
	if err != nil {
		t.Fatalf("%s: expected a frame: %v", p.name, err)
	}
	return f
}

func (p *testPeer) expectFrame(t *testing.T, want protocol.Frame) {
	t.Helper()
	if got := p.nextFrame(t); got != want {
		t.Fatalf("%s: got frame %+v, want %+v", p.name, got, want)
	}
}

func (p *testPeer) expectNoFrame(t *testing.T) {
	t.Helper()
	f, err := p.readFrame(silencePeriod)
	if err == nil {
		t.Fatalf("%s: expected no frame, got %+v", p.name, f)
	}
	if !isTimeout(err) {
		t.Fatalf("%s: expected read timeout, got %v", p.name, err)
	}
}

// expectClosed waits for the server to close the connection.
func (p *testPeer) expectClosed(t *testing.T) {
	t.Helper()
	for {
		_, err := p.readFrame(frameTimeout)
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) || isExpectedCloseError(err) {
			return
		}
		t.Fatalf("%s: expected connection close, got %v", p.name, err)
	}
}

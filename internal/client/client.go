package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/Tyrowin/gopresence/internal/protocol"
)

const writeTimeout = 10 * time.Second

// Client is one connection to a presence server.
type Client struct {
	conn net.Conn
	user string

	writeMu sync.Mutex
	decoder *protocol.Decoder
}

// Dial connects to addr and completes the handshake as user.
func Dial(ctx context.Context, addr, user string) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	c, err := New(conn, user)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established connection and sends the handshake line.
func New(conn net.Conn, user string) (*Client, error) {
	user = strings.TrimSpace(user)
	if user == "" || strings.ContainsAny(user, "\r\n") {
		return nil, fmt.Errorf("invalid user name %q", user)
	}

	c := &Client{
		conn:    conn,
		user:    user,
		decoder: protocol.NewDecoder(protocol.DefaultMaxLineSize),
	}
	if err := c.write([]byte(user + "\n")); err != nil {
		return nil, fmt.Errorf("send handshake: %w", err)
	}
	return c, nil
}

// User returns the name the client joined with.
func (c *Client) User() string {
	return c.user
}

// Send encodes and writes one frame.
func (c *Client) Send(f protocol.Frame) error {
	data, err := protocol.Encode(f)
	if err != nil {
		return err
	}
	return c.write(data)
}

// SendLine parses a line of user input and sends the resulting frame.
func (c *Client) SendLine(line string) error {
	f, err := ParseCommand(c.user, line)
	if err != nil {
		return err
	}
	return c.Send(f)
}

func (c *Client) write(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	_, err := c.conn.Write(data)
	return err
}

// Listen reads frames until the connection ends, calling handle for each.
// Lines that do not decode are skipped. A clean close by either side
// returns nil.
func (c *Client) Listen(handle func(protocol.Frame)) error {
	buf := make([]byte, 1024)
	for {
		n, err := c.conn.Read(buf)
		if n > 0 {
			if _, werr := c.decoder.Write(buf[:n]); werr != nil {
				return werr
			}
			for _, f := range c.decoder.Frames() {
				handle(f)
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
				return nil
			}
			return err
		}
	}
}

// Close closes the connection; a concurrent Listen returns.
func (c *Client) Close() error {
	return c.conn.Close()
}

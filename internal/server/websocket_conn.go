package server

import (
	"bytes"
	"io"

	"github.com/gorilla/websocket"
)

// wsConn presents a WebSocket connection as the newline-delimited byte
// stream sessions expect. Each inbound data message is read as one or more
// lines; a newline is appended at the end of every message so peers may omit
// it. Each Write becomes one text message. Close is the embedded
// connection's, which drops the socket without a close handshake so it
// never waits on a stalled writer.
type wsConn struct {
	*websocket.Conn

	reader      io.Reader
	needNewline bool
}

func newWSConn(conn *websocket.Conn, readLimit int64) *wsConn {
	conn.SetReadLimit(readLimit)
	return &wsConn{Conn: conn}
}

// Read implements io.Reader over consecutive WebSocket messages.
func (c *wsConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if c.reader == nil {
			if c.needNewline {
				c.needNewline = false
				p[0] = '\n'
				return 1, nil
			}
			_, r, err := c.Conn.NextReader()
			if err != nil {
				return 0, err
			}
			c.reader = r
		}

		n, err := c.reader.Read(p)
		if err == io.EOF {
			c.reader = nil
			c.needNewline = true
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

// Write sends p as one text message without its trailing newline.
func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.Conn.WriteMessage(websocket.TextMessage, bytes.TrimSuffix(p, []byte{'\n'})); err != nil {
		return 0, err
	}
	return len(p), nil
}

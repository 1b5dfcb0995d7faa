// Package server exposes the HTTP side-channel handlers: WebSocket upgrades,
// health checks, the presence listing, and the built-in test page.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/websocket"
)

func (s *Server) upgrader() *websocket.Upgrader {
	policy := newOriginPolicy(s.cfg.AllowedOrigins, s.logger)
	return &websocket.Upgrader{
		ReadBufferSize:  readBufferSize,
		WriteBufferSize: readBufferSize,
		CheckOrigin:     policy.checkOrigin,
	}
}

// WebSocketHandler upgrades the request and runs a session over the
// WebSocket connection. The first text message is the handshake line.
func (s *Server) WebSocketHandler(upgrader *websocket.Upgrader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "addr", r.RemoteAddr, "error", err)
			return
		}

		s.startSession(newWSConn(conn, int64(s.cfg.MaxFrameSize)))
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
func (s *Server) HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "presence server is running (%d sessions)", s.registry.Len())
}

// PresenceHandler lists registered sessions and their last-known positions as JSON.
func (s *Server) PresenceHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.registry.Presence()); err != nil {
		s.logger.Warn("error writing presence response", "error", err)
	}
}

// TestPageHandler serves an HTML page for joining from a browser, sending
// chat and move commands, and watching frames from other sessions.
func (s *Server) TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	if _, err := fmt.Fprint(w, testPage); err != nil {
		s.logger.Warn("error writing HTML response", "error", err)
	}
}

const testPage = `<!DOCTYPE html>
<html>
<head>
    <title>Presence WebSocket Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #frames {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"] { width: 300px; padding: 5px; margin-right: 10px; }
        button { padding: 5px 15px; background-color: #007cba; color: white; border: none; cursor: pointer; }
        .status { margin: 10px 0; padding: 5px; border-radius: 3px; }
        .connected { background-color: #d4edda; color: #155724; }
        .disconnected { background-color: #f8d7da; color: #721c24; }
    </style>
</head>
<body>
    <h1>Presence WebSocket Test</h1>
    <div id="status" class="status disconnected">Disconnected</div>
    <div>
        <input type="text" id="user" placeholder="Your name">
        <button id="connectButton" onclick="toggleConnection()">Connect</button>
    </div>
    <div>
        <input type="text" id="input" placeholder="Message, or /move x y" disabled>
        <button id="sendButton" onclick="send()" disabled>Send</button>
    </div>
    <div id="frames"></div>
    <script>
        let ws = null;
        let user = '';
        const framesDiv = document.getElementById('frames');
        const input = document.getElementById('input');

        function show(text, color) {
            const el = document.createElement('div');
            el.style.color = color || 'gray';
            el.textContent = text;
            framesDiv.appendChild(el);
            framesDiv.scrollTop = framesDiv.scrollHeight;
        }

        function setConnected(connected) {
            const status = document.getElementById('status');
            status.textContent = connected ? 'Connected as ' + user : 'Disconnected';
            status.className = 'status ' + (connected ? 'connected' : 'disconnected');
            input.disabled = !connected;
            document.getElementById('sendButton').disabled = !connected;
            document.getElementById('connectButton').textContent = connected ? 'Disconnect' : 'Connect';
        }

        function render(frame) {
            if (frame.type === 'position') {
                show('[POS] ' + frame.user + ': (' + frame.x + ', ' + frame.y + ')', 'green');
            } else if (frame.type === 'message') {
                show('[' + frame.user + '] ' + frame.text, 'black');
            }
        }

        function toggleConnection() {
            if (ws) { ws.close(); return; }
            user = document.getElementById('user').value.trim();
            if (!user) { show('Enter a name first'); return; }
            const scheme = location.protocol === 'https:' ? 'wss://' : 'ws://';
            ws = new WebSocket(scheme + location.host + '/ws');
            ws.onopen = function() { ws.send(user); setConnected(true); };
            ws.onmessage = function(event) {
                event.data.split('\n').forEach(function(line) {
                    if (line) { try { render(JSON.parse(line)); } catch (e) {} }
                });
            };
            ws.onclose = function() { show('Connection closed'); setConnected(false); ws = null; };
        }

        function send() {
            const text = input.value.trim();
            if (!text || !ws) { return; }
            const parts = text.split(/\s+/);
            let frame = { type: 'message', user: user, text: text };
            if (parts[0] === '/move') {
                const x = parseFloat(parts[1]), y = parseFloat(parts[2]);
                if (parts.length !== 3 || isNaN(x) || isNaN(y)) { show('usage: /move 12.5 44.2'); return; }
                frame = { type: 'position', user: user, x: x, y: y };
            }
            ws.send(JSON.stringify(frame));
            render(frame);
            input.value = '';
        }

        input.addEventListener('keypress', function(e) { if (e.key === 'Enter') { send(); } });
    </script>
</body>
</html>`

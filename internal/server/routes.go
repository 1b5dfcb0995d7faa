// Package server wires the HTTP side-channel handlers into a ServeMux.
package server

import "net/http"

// SetupRoutes configures and returns an HTTP ServeMux with the health check,
// presence listing, WebSocket endpoint and test page.
func (s *Server) SetupRoutes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.HealthHandler)
	mux.HandleFunc("/presence", s.PresenceHandler)
	mux.HandleFunc("/ws", s.WebSocketHandler(s.upgrader()))
	mux.HandleFunc("/test", s.TestPageHandler)
	return mux
}

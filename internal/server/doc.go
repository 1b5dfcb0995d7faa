// Package server implements the presence/chat server.
//
// A Server accepts TCP connections (and, optionally, WebSocket connections on
// an HTTP side-channel) and runs one Session per connection. Each session
// reads its user identifier from the first line, registers with the shared
// Registry, and then relays position and message frames to every other
// session through the Broadcaster. The implementation is split into files for
// configuration, the registry, sessions, broadcasting, transports and HTTP
// handlers.
package server

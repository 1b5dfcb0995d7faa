// Package server fans decoded frames out to registered sessions through the
// Broadcaster type.
package server

import (
	"log/slog"

	"github.com/Tyrowin/gopresence/internal/protocol"
)

// Broadcaster delivers frames to every registered session except an optional
// sender. Delivery is fire-and-forget: a recipient that cannot keep up is
// closed, and the sender never learns about it.
type Broadcaster struct {
	registry     *Registry
	announceUser string
	logger       *slog.Logger
}

// NewBroadcaster creates a Broadcaster over registry. Announcements are sent
// as message frames from announceUser.
func NewBroadcaster(registry *Registry, announceUser string, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		registry:     registry,
		announceUser: announceUser,
		logger:       logger,
	}
}

// Broadcast encodes f once and queues it for every registered session other
// than exclude. It returns the number of sessions the frame was queued for.
func (b *Broadcaster) Broadcast(f protocol.Frame, exclude *Session) int {
	payload, err := protocol.Encode(f)
	if err != nil {
		b.logger.Warn("dropping frame that cannot be encoded", "type", f.Type, "error", err)
		return 0
	}

	sessions := b.registry.Snapshot()
	delivered, failed := b.broadcastToSessions(sessions, payload, exclude)
	b.dropFailedSessions(failed)

	b.logger.Debug("broadcast frame",
		"type", f.Type, "user", f.User,
		"recipients", delivered, "targets", targetCount(len(sessions), exclude))
	return delivered
}

// Announce broadcasts a server-generated chat message.
func (b *Broadcaster) Announce(text string, exclude *Session) int {
	return b.Broadcast(protocol.Message(b.announceUser, text), exclude)
}

// targetCount determines how many sessions a broadcast is aimed at.
func targetCount(sessionCount int, exclude *Session) int {
	if exclude != nil {
		sessionCount--
	}
	return max(sessionCount, 0)
}

// broadcastToSessions queues payload on each session except exclude and
// returns the sessions whose queue was full.
func (b *Broadcaster) broadcastToSessions(sessions []*Session, payload []byte, exclude *Session) (int, []*Session) {
	delivered := 0
	var failed []*Session

	for _, s := range sessions {
		if s == exclude {
			continue
		}
		if s.enqueue(payload) {
			delivered++
			continue
		}
		if !s.closed() {
			failed = append(failed, s)
		}
	}
	return delivered, failed
}

// dropFailedSessions closes sessions that fell behind. Their own read loops
// observe the closed connection and unregister them.
func (b *Broadcaster) dropFailedSessions(failed []*Session) {
	for _, s := range failed {
		b.logger.Info("dropping session with full send queue", "session", s.id, "addr", s.addr)
		s.Close()
	}
}

package server

import (
	"testing"

	"github.com/Tyrowin/gopresence/internal/protocol"
)

func newTestBroadcaster(t *testing.T, sessions ...*Session) (*Broadcaster, *Registry) {
	t.Helper()

	r := NewRegistry(0, false)
	for _, s := range sessions {
		if err := r.Register(s); err != nil {
			t.Fatalf("Register() failed: %v", err)
		}
	}
	return NewBroadcaster(r, "SERVER", testLogger()), r
}

func queued(s *Session) []string {
	var frames []string
	for {
		select {
		case payload := <-s.send:
			frames = append(frames, string(payload))
		default:
			return frames
		}
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	alice := newTestSession(t, "a", "alice", 4)
	bob := newTestSession(t, "b", "bob", 4)
	carol := newTestSession(t, "c", "carol", 4)
	b, _ := newTestBroadcaster(t, alice, bob, carol)

	delivered := b.Broadcast(protocol.Message("alice", "hi"), alice)
	if delivered != 2 {
		t.Fatalf("Broadcast() delivered to %d sessions, want 2", delivered)
	}

	want := `{"type":"message","user":"alice","text":"hi"}` + "\n"
	for _, s := range []*Session{bob, carol} {
		frames := queued(s)
		if len(frames) != 1 || frames[0] != want {
			t.Errorf("%s queued %q, want %q", s.user, frames, want)
		}
	}
	if frames := queued(alice); len(frames) != 0 {
		t.Errorf("sender received its own frame: %q", frames)
	}
}

func TestAnnounceReachesEveryone(t *testing.T) {
	alice := newTestSession(t, "a", "alice", 4)
	bob := newTestSession(t, "b", "bob", 4)
	b, _ := newTestBroadcaster(t, alice, bob)

	if delivered := b.Announce("alice disconnected.", nil); delivered != 2 {
		t.Fatalf("Announce() delivered to %d sessions, want 2", delivered)
	}

	want := `{"type":"message","user":"SERVER","text":"alice disconnected."}` + "\n"
	for _, s := range []*Session{alice, bob} {
		if frames := queued(s); len(frames) != 1 || frames[0] != want {
			t.Errorf("%s queued %q, want %q", s.user, frames, want)
		}
	}
}

func TestBroadcastClosesSlowSession(t *testing.T) {
	fast := newTestSession(t, "f", "fast", 4)
	slow := newTestSession(t, "s", "slow", 1)
	sender := newTestSession(t, "x", "sender", 4)
	b, r := newTestBroadcaster(t, fast, slow, sender)

	if delivered := b.Broadcast(protocol.Position("sender", 1, 1), sender); delivered != 2 {
		t.Fatalf("first Broadcast() delivered to %d sessions, want 2", delivered)
	}
	if delivered := b.Broadcast(protocol.Position("sender", 2, 2), sender); delivered != 1 {
		t.Fatalf("second Broadcast() delivered to %d sessions, want 1", delivered)
	}

	if !slow.closed() {
		t.Fatal("session with a full queue was not closed")
	}
	if fast.closed() {
		t.Fatal("session that kept up was closed")
	}
	if frames := queued(fast); len(frames) != 2 {
		t.Errorf("fast session queued %d frames, want 2", len(frames))
	}

	// Closing does not unregister; the session's own teardown does that.
	if r.Len() != 3 {
		t.Errorf("expected 3 registered sessions, have %d", r.Len())
	}
}

func TestBroadcastSkipsClosedSessions(t *testing.T) {
	open := newTestSession(t, "o", "open", 4)
	gone := newTestSession(t, "g", "gone", 4)
	b, _ := newTestBroadcaster(t, open, gone)
	gone.Close()

	if delivered := b.Broadcast(protocol.Message("x", "hello"), nil); delivered != 1 {
		t.Fatalf("Broadcast() delivered to %d sessions, want 1", delivered)
	}
	if frames := queued(gone); len(frames) != 0 {
		t.Errorf("closed session queued %q", frames)
	}
}

func TestBroadcastUnencodableFrame(t *testing.T) {
	alice := newTestSession(t, "a", "alice", 4)
	b, _ := newTestBroadcaster(t, alice)

	if delivered := b.Broadcast(protocol.Frame{Type: "teleport", User: "x"}, nil); delivered != 0 {
		t.Fatalf("Broadcast() delivered an unencodable frame to %d sessions", delivered)
	}
}

func TestTargetCount(t *testing.T) {
	sender := &Session{id: "x"}
	tests := []struct {
		name     string
		sessions int
		exclude  *Session
		want     int
	}{
		{"no exclusion", 3, nil, 3},
		{"with exclusion", 3, sender, 2},
		{"only sender", 1, sender, 0},
		{"empty", 0, sender, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := targetCount(tt.sessions, tt.exclude); got != tt.want {
				t.Errorf("targetCount(%d) = %d, want %d", tt.sessions, got, tt.want)
			}
		})
	}
}

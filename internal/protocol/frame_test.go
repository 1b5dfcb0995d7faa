package protocol

import (
	"errors"
	"strings"
	"testing"
)

// TestEncodePosition verifies the position record layout on the wire.
func TestEncodePosition(t *testing.T) {
	data, err := Encode(Position("bob", 1.5, 2.0))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := `{"type":"position","user":"bob","x":1.5,"y":2}` + "\n"
	if string(data) != want {
		t.Errorf("Encode() = %q, want %q", data, want)
	}
}

// TestEncodeMessage verifies the message record layout on the wire.
func TestEncodeMessage(t *testing.T) {
	data, err := Encode(Message("SERVER", "alice disconnected."))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	want := `{"type":"message","user":"SERVER","text":"alice disconnected."}` + "\n"
	if string(data) != want {
		t.Errorf("Encode() = %q, want %q", data, want)
	}
}

// TestEncodeKeepsZeroCoordinates ensures a position at the origin still carries x and y.
func TestEncodeKeepsZeroCoordinates(t *testing.T) {
	data, err := Encode(Position("alice", 0, 0))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	f, err := Decode([]byte(strings.TrimSuffix(string(data), "\n")))
	if err != nil {
		t.Fatalf("Decode() of encoded origin failed: %v", err)
	}
	if f.X != 0 || f.Y != 0 || f.Type != TypePosition {
		t.Errorf("Decode() = %+v, want origin position", f)
	}
}

// TestEncodeUnknownType verifies frames without a known type are refused.
func TestEncodeUnknownType(t *testing.T) {
	if _, err := Encode(Frame{Type: "teleport", User: "bob"}); !errors.Is(err, ErrUnknownType) {
		t.Errorf("Encode() error = %v, want ErrUnknownType", err)
	}
}

// TestDecode covers valid records and every class of rejected input.
func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    Frame
		wantErr error
	}{
		{
			name: "position",
			line: `{"type":"position","user":"bob","x":1.5,"y":2.0}`,
			want: Position("bob", 1.5, 2.0),
		},
		{
			name: "message",
			line: `{"type":"message","user":"alice","text":"hi there"}`,
			want: Message("alice", "hi there"),
		},
		{
			name: "extra fields are ignored",
			line: `{"type":"message","user":"alice","text":"hi","color":"red"}`,
			want: Message("alice", "hi"),
		},
		{
			name: "empty text is allowed",
			line: `{"type":"message","user":"alice","text":""}`,
			want: Message("alice", ""),
		},
		{
			name:    "not json",
			line:    `move 1 2`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "json array",
			line:    `[1,2,3]`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "wrong coordinate type",
			line:    `{"type":"position","user":"bob","x":"1","y":2}`,
			wantErr: ErrMalformedFrame,
		},
		{
			name:    "unknown type",
			line:    `{"type":"teleport","user":"bob","x":1,"y":2}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "missing type",
			line:    `{"user":"bob","text":"hi"}`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "null record",
			line:    `null`,
			wantErr: ErrUnknownType,
		},
		{
			name:    "position missing y",
			line:    `{"type":"position","user":"bob","x":1}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "message missing text",
			line:    `{"type":"message","user":"bob"}`,
			wantErr: ErrMissingField,
		},
		{
			name:    "missing user",
			line:    `{"type":"message","text":"hi"}`,
			wantErr: ErrMissingField,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode([]byte(tt.line))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Decode() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Decode() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

// Package protocol defines the newline-delimited JSON wire format shared by
// the presence server and its clients.
//
// Every record is a single JSON object on its own line with a mandatory
// "type" discriminator. Two record types exist:
//
//	{"type":"position","user":"bob","x":1.5,"y":2}
//	{"type":"message","user":"bob","text":"hello"}
//
// The first line a client sends after connecting is not a record: it is the
// raw user identifier (the handshake) and is read with Decoder.Line.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Type discriminates the two frame kinds carried on the wire.
type Type string

const (
	// TypePosition marks a 2D position update.
	TypePosition Type = "position"
	// TypeMessage marks a chat message.
	TypeMessage Type = "message"
)

var (
	// ErrMalformedFrame is returned when a line is not a JSON object.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownType is returned for a missing or unrecognised "type" value.
	ErrUnknownType = errors.New("unknown frame type")
	// ErrMissingField is returned when a required field is absent or has the wrong JSON type.
	ErrMissingField = errors.New("missing required field")
)

// Frame is one decoded application record. X and Y are meaningful only for
// position frames and Text only for message frames.
type Frame struct {
	Type Type
	User string
	X    float64
	Y    float64
	Text string
}

// Position builds a position frame.
func Position(user string, x, y float64) Frame {
	return Frame{Type: TypePosition, User: user, X: x, Y: y}
}

// Message builds a chat message frame.
func Message(user, text string) Frame {
	return Frame{Type: TypeMessage, User: user, Text: text}
}

type positionRecord struct {
	Type Type    `json:"type"`
	User string  `json:"user"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
}

type messageRecord struct {
	Type Type   `json:"type"`
	User string `json:"user"`
	Text string `json:"text"`
}

// wireRecord uses pointers so absent fields can be told apart from zero values.
type wireRecord struct {
	Type *string  `json:"type"`
	User *string  `json:"user"`
	X    *float64 `json:"x"`
	Y    *float64 `json:"y"`
	Text *string  `json:"text"`
}

// Encode serializes f as a single newline-terminated JSON record.
func Encode(f Frame) ([]byte, error) {
	var record any
	switch f.Type {
	case TypePosition:
		record = positionRecord{Type: TypePosition, User: f.User, X: f.X, Y: f.Y}
	case TypeMessage:
		record = messageRecord{Type: TypeMessage, User: f.User, Text: f.Text}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, f.Type)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("encode %s frame: %w", f.Type, err)
	}
	return append(data, '\n'), nil
}

// Decode parses a single record. The line must not include the trailing newline.
func Decode(line []byte) (Frame, error) {
	var rec wireRecord
	if err := json.Unmarshal(line, &rec); err != nil {
		return Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if rec.Type == nil {
		return Frame{}, fmt.Errorf("%w: no type", ErrUnknownType)
	}
	if rec.User == nil {
		return Frame{}, fmt.Errorf("%w: user", ErrMissingField)
	}

	switch Type(*rec.Type) {
	case TypePosition:
		if rec.X == nil {
			return Frame{}, fmt.Errorf("%w: x", ErrMissingField)
		}
		if rec.Y == nil {
			return Frame{}, fmt.Errorf("%w: y", ErrMissingField)
		}
		return Position(*rec.User, *rec.X, *rec.Y), nil
	case TypeMessage:
		if rec.Text == nil {
			return Frame{}, fmt.Errorf("%w: text", ErrMissingField)
		}
		return Message(*rec.User, *rec.Text), nil
	default:
		return Frame{}, fmt.Errorf("%w: %q", ErrUnknownType, *rec.Type)
	}
}

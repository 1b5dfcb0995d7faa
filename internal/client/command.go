// Package client implements the companion side of the presence protocol:
// turning typed commands into frames, dialing and handshaking with the
// server, and rendering frames received from other users.
package client

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Tyrowin/gopresence/internal/protocol"
)

var (
	// ErrEmptyLine is returned for input that contains nothing to send.
	ErrEmptyLine = errors.New("empty line")
	// ErrMoveUsage is returned when /move is not followed by two numbers.
	ErrMoveUsage = errors.New("usage: /move 12.5 44.2")
)

// ParseCommand turns one line of user input into a frame.
//
// "/move X Y" produces a position frame and is an error unless X and Y are
// numbers. The bare form "move X Y" is also a position when both arguments
// parse; otherwise it is sent as chat. Any other non-blank line is sent as
// chat exactly as typed.
func ParseCommand(user, line string) (protocol.Frame, error) {
	text := strings.TrimSpace(line)
	if text == "" {
		return protocol.Frame{}, ErrEmptyLine
	}

	fields := strings.Fields(text)
	switch fields[0] {
	case "/move":
		x, y, ok := parseCoordinates(fields[1:])
		if !ok {
			return protocol.Frame{}, ErrMoveUsage
		}
		return protocol.Position(user, x, y), nil
	case "move":
		if x, y, ok := parseCoordinates(fields[1:]); ok {
			return protocol.Position(user, x, y), nil
		}
	}

	return protocol.Message(user, line), nil
}

func parseCoordinates(args []string) (float64, float64, bool) {
	if len(args) != 2 {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(args[0], 64)
	y, errY := strconv.ParseFloat(args[1], 64)
	if errX != nil || errY != nil || !finite(x) || !finite(y) {
		return 0, 0, false
	}
	return x, y, true
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Format renders a received frame for a terminal.
func Format(f protocol.Frame) string {
	switch f.Type {
	case protocol.TypePosition:
		return fmt.Sprintf("[POS] %s: (%s, %s)", f.User, formatCoordinate(f.X), formatCoordinate(f.Y))
	case protocol.TypeMessage:
		return fmt.Sprintf("[%s] %s", f.User, f.Text)
	default:
		return fmt.Sprintf("[%s] <%s>", f.User, f.Type)
	}
}

func formatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

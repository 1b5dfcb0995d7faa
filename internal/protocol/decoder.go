package protocol

import (
	"bytes"
	"errors"
	"fmt"
)

// DefaultMaxLineSize bounds a single record, including the handshake line.
const DefaultMaxLineSize = 4096

// ErrLineTooLong is returned by Decoder.Write when more than MaxLineSize bytes
// are buffered without a newline.
var ErrLineTooLong = errors.New("line exceeds maximum size")

// Decoder splits a byte stream into lines and decodes them into frames.
// Bytes arriving without a trailing newline are kept until the rest of the
// line shows up in a later Write. A Decoder is not safe for concurrent use;
// each connection owns its own.
type Decoder struct {
	// MaxLineSize caps one line. Zero means DefaultMaxLineSize.
	MaxLineSize int

	// OnMalformed, when set, is called for every line Frames discards.
	OnMalformed func(line []byte, err error)

	buf bytes.Buffer
}

// NewDecoder returns a Decoder limited to maxLineSize bytes per line.
func NewDecoder(maxLineSize int) *Decoder {
	return &Decoder{MaxLineSize: maxLineSize}
}

func (d *Decoder) maxLine() int {
	if d.MaxLineSize <= 0 {
		return DefaultMaxLineSize
	}
	return d.MaxLineSize
}

// Write buffers p. It fails with ErrLineTooLong once the unterminated tail
// grows past the limit; the stream is unusable after that.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf.Write(p)

	tail := d.buf.Bytes()
	if i := bytes.LastIndexByte(tail, '\n'); i >= 0 {
		tail = tail[i+1:]
	}
	if len(tail) > d.maxLine() {
		return len(p), fmt.Errorf("%w (%d bytes)", ErrLineTooLong, d.maxLine())
	}
	return len(p), nil
}

// Buffered reports the number of bytes waiting for a newline or for Line/Frames.
func (d *Decoder) Buffered() int {
	return d.buf.Len()
}

// Line pops the next complete line with its line terminator removed.
func (d *Decoder) Line() ([]byte, bool) {
	i := bytes.IndexByte(d.buf.Bytes(), '\n')
	if i < 0 {
		return nil, false
	}
	line := bytes.Clone(d.buf.Next(i + 1)[:i])
	return bytes.TrimSuffix(line, []byte{'\r'}), true
}

// Frames decodes every complete line currently buffered. Blank lines are
// skipped, malformed ones are handed to OnMalformed and dropped.
func (d *Decoder) Frames() []Frame {
	var frames []Frame
	for {
		line, ok := d.Line()
		if !ok {
			return frames
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		if len(line) > d.maxLine() {
			d.malformed(line, ErrLineTooLong)
			continue
		}

		f, err := Decode(line)
		if err != nil {
			d.malformed(line, err)
			continue
		}
		frames = append(frames, f)
	}
}

func (d *Decoder) malformed(line []byte, err error) {
	if d.OnMalformed != nil {
		d.OnMalformed(line, err)
	}
}

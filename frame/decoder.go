// Package frame splits a byte stream into top-level JSON values.
//
// A value is complete once the opening brace or bracket is balanced. The
// scanner tracks nesting depth and string/escape state, so delimiters inside
// quoted strings never end a message. Scan state survives across writes and
// a partially received value is never rescanned from the start.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
)

const DefaultMaxSize = 64 << 10

var (
	// ErrCorrupt means the pending bytes can never form a message. The
	// buffer has been discarded.
	ErrCorrupt = errors.New("frame: corrupt stream")
	// ErrMalformed means a balanced value was found but it is not valid
	// JSON. Only that value has been dropped.
	ErrMalformed = errors.New("frame: malformed message")
	// ErrTooLarge means a value is longer than the size limit. A complete
	// value is dropped on its own; an incomplete one takes the whole buffer
	// with it.
	ErrTooLarge = errors.New("frame: message too large")
)

type Decoder struct {
	buf     []byte
	maxSize int

	// scan state for buf[:pos]; pos is 0 whenever depth is 0
	pos      int
	depth    int
	inString bool
	escaped  bool
}

// NewDecoder returns a decoder that rejects values longer than maxSize bytes.
// maxSize <= 0 disables the limit.
func NewDecoder(maxSize int) *Decoder {
	return &Decoder{maxSize: maxSize}
}

// Write appends received bytes. It never fails.
func (d *Decoder) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

// Buffered reports how many bytes are waiting for more input.
func (d *Decoder) Buffered() int { return len(d.buf) }

func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.pos, d.depth = 0, 0
	d.inString, d.escaped = false, false
}

// Next returns the next complete message. It returns (nil, nil) when more
// bytes are needed.
func (d *Decoder) Next() (json.RawMessage, error) {
	if d.depth == 0 {
		d.trimLeadingSpace()
		if len(d.buf) == 0 {
			return nil, nil
		}
		if c := d.buf[0]; c != '{' && c != '[' {
			d.Reset()
			return nil, fmt.Errorf("%w: unexpected %q", ErrCorrupt, c)
		}
	}

	for d.pos < len(d.buf) {
		c := d.buf[d.pos]
		d.pos++

		if d.inString {
			switch {
			case d.escaped:
				d.escaped = false
			case c == '\\':
				d.escaped = true
			case c == '"':
				d.inString = false
			}
			continue
		}

		switch c {
		case '"':
			d.inString = true
		case '{', '[':
			d.depth++
		case '}', ']':
			d.depth--
			if d.depth == 0 {
				if d.maxSize > 0 && d.pos > d.maxSize {
					n := d.pos
					d.consume(n)
					return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, n)
				}
				msg := make(json.RawMessage, d.pos)
				copy(msg, d.buf[:d.pos])
				d.consume(d.pos)
				if !json.Valid(msg) {
					return nil, fmt.Errorf("%w: %s", ErrMalformed, preview(msg))
				}
				return msg, nil
			}
		}
	}

	if d.maxSize > 0 && len(d.buf) > d.maxSize {
		n := len(d.buf)
		d.Reset()
		return nil, fmt.Errorf("%w: %d bytes pending", ErrTooLarge, n)
	}
	return nil, nil
}

func (d *Decoder) consume(n int) {
	rest := copy(d.buf, d.buf[n:])
	d.buf = d.buf[:rest]
	d.pos = 0
}

func (d *Decoder) trimLeadingSpace() {
	i := 0
	for i < len(d.buf) {
		switch d.buf[i] {
		case ' ', '\t', '\r', '\n':
			i++
			continue
		}
		break
	}
	if i > 0 {
		d.consume(i)
	}
}

func preview(b []byte) string {
	const limit = 64
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// DefaultMaxPendingBytes bounds how much unterminated text a Decoder keeps
// before Overflowed reports true.
const DefaultMaxPendingBytes = 1 << 20

// Decoder splits raw transport chunks into complete lines.
//
// Text that is not yet terminated by '\n' stays buffered until a later chunk
// completes it. A multi-byte UTF-8 sequence cut by a chunk boundary is held
// back as raw bytes and never replaced with U+FFFD unless Finish is called
// while it is still incomplete.
type Decoder struct {
	utf8    *encoding.Decoder
	carry   []byte
	buf     strings.Builder
	pending string
	scratch [4096]byte
}

// NewDecoder returns an empty Decoder.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Write appends a chunk to the line buffer.
func (d *Decoder) Write(chunk []byte) {
	d.decode(chunk, false)
}

// Next removes and returns the next complete line, without its terminator
// and without a trailing '\r'. ok is false when no complete line is buffered.
func (d *Decoder) Next() (line string, ok bool) {
	d.compact()
	i := strings.IndexByte(d.pending, '\n')
	if i < 0 {
		return "", false
	}
	line = d.pending[:i]
	d.pending = d.pending[i+1:]
	return strings.TrimSuffix(line, "\r"), true
}

// Unread pushes line back onto the head of the buffer, followed by its own
// terminator, so the next call to Next returns it again.
func (d *Decoder) Unread(line string) {
	d.compact()
	d.pending = line + "\n" + d.pending
}

// Decode writes chunk and drains every complete line now available.
func (d *Decoder) Decode(chunk []byte) []string {
	d.Write(chunk)
	var lines []string
	for {
		line, ok := d.Next()
		if !ok {
			return lines
		}
		lines = append(lines, line)
	}
}

// Finish flushes the decoder at end of stream. Any incomplete UTF-8 tail is
// replaced with U+FFFD and a final unterminated line is returned as if it
// had been terminated. The decoder is empty afterwards.
func (d *Decoder) Finish() []string {
	d.decode(nil, true)
	var lines []string
	for {
		line, ok := d.Next()
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	if rest := strings.TrimSuffix(d.pending, "\r"); rest != "" {
		lines = append(lines, rest)
	}
	d.pending = ""
	d.utf8.Reset()
	return lines
}

// Buffered reports the number of bytes held: unterminated text plus any
// carried partial UTF-8 sequence.
func (d *Decoder) Buffered() int {
	return len(d.pending) + d.buf.Len() + len(d.carry)
}

// Overflowed reports whether the buffer exceeds limit bytes.
func (d *Decoder) Overflowed(limit int) bool {
	if limit <= 0 {
		limit = DefaultMaxPendingBytes
	}
	return d.Buffered() > limit
}

// Reset discards all buffered state.
func (d *Decoder) Reset() {
	d.carry = nil
	d.buf.Reset()
	d.pending = ""
	d.utf8.Reset()
}

// compact moves freshly decoded text into the pending string.
func (d *Decoder) compact() {
	if d.buf.Len() == 0 {
		return
	}
	d.pending += d.buf.String()
	d.buf.Reset()
}

// decode runs src through the UTF-8 transformer. An incomplete trailing
// sequence makes the transformer report ErrShortSrc; those bytes are carried
// into the next call.
func (d *Decoder) decode(chunk []byte, atEOF bool) {
	src := chunk
	if len(d.carry) > 0 {
		src = append(d.carry, chunk...)
		d.carry = nil
	}
	for len(src) > 0 {
		nDst, nSrc, err := d.utf8.Transform(d.scratch[:], src, atEOF)
		d.buf.Write(d.scratch[:nDst])
		src = src[nSrc:]
		switch err {
		case nil:
			if nSrc == 0 {
				return
			}
		case transform.ErrShortDst:
			// scratch full, go around again
		case transform.ErrShortSrc:
			d.carry = append([]byte(nil), src...)
			return
		default:
			// The UTF-8 decoder substitutes invalid input instead of failing;
			// keep the raw bytes rather than lose them.
			d.buf.Write(src)
			return
		}
	}
}

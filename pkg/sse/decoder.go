// Package sse decodes the "data: " framed event stream returned by an
// assistant completion endpoint and interprets the JSON payload of each frame.
//
// It is intentionally lenient: lines that are not data lines (blank lines,
// comments, keep-alives, other SSE fields) are dropped, and malformed payloads
// are reported as ignorable events rather than errors.
package sse

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

// DataPrefix is the literal that starts every frame-carrying line.
const DataPrefix = "data: "

// DefaultReadSize is the read buffer used by NewReader when size <= 0.
const DefaultReadSize = 4096

var dataPrefix = []byte(DataPrefix)

// Decoder splits an arbitrarily chunked byte stream into frame payloads.
// A partial line is buffered until the chunk carrying its terminator arrives,
// so frames (and multi-byte runes) split across reads are reassembled intact.
//
// The zero value is ready to use. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf []byte

	// scanned bytes of buf are known to hold no line terminator.
	scanned int
}

// Feed appends chunk to the internal buffer and returns the payload of every
// complete data line, in arrival order. Any trailing incomplete line is kept
// for the next call.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var payloads []string
	start, from := 0, d.scanned
	for {
		i := bytes.IndexByte(d.buf[from:], '\n')
		if i < 0 {
			break
		}
		end := from + i
		if p, ok := payload(d.buf[start:end]); ok {
			payloads = append(payloads, p)
		}
		start = end + 1
		from = start
	}

	if start > 0 {
		d.buf = append(d.buf[:0], d.buf[start:]...)
	}
	d.scanned = len(d.buf)
	return payloads
}

// Flush returns the payload of an unterminated trailing data line, if any,
// and empties the buffer. Call it once the byte stream has closed.
func (d *Decoder) Flush() []string {
	line := d.buf
	d.buf = nil
	d.scanned = 0
	if p, ok := payload(line); ok {
		return []string{p}
	}
	return nil
}

// Buffered reports how many bytes of an incomplete line are held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func payload(line []byte) (string, bool) {
	line = bytes.TrimSuffix(line, []byte{'\r'})
	if !bytes.HasPrefix(line, dataPrefix) {
		return "", false
	}

	return strings.ToValidUTF8(string(line[len(dataPrefix):]), "\uFFFD"), true
}

// Reader is a lazy, forward-only sequence of frame payloads read from an
// underlying byte stream. It cannot be restarted.
type Reader struct {
	r       io.Reader
	dec     Decoder
	buf     []byte
	pending []string
	err     error
}

// NewReader returns a Reader pulling at most size bytes per read from r.
func NewReader(r io.Reader, size int) *Reader {
	if size <= 0 {
		size = DefaultReadSize
	}

	return &Reader{
		r:   r,
		buf: make([]byte, size),
	}
}

// Next returns the next frame payload. It returns io.EOF once the stream has
// closed and every buffered frame has been returned. Any other read error is
// returned unchanged after the frames decoded before it.
func (r *Reader) Next() (string, error) {
	for len(r.pending) == 0 {
		if r.err != nil {
			return "", r.err
		}

		n, err := r.r.Read(r.buf)
		if n > 0 {
			r.pending = r.dec.Feed(r.buf[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.pending = append(r.pending, r.dec.Flush()...)
			}
			r.err = err
		}
	}

	p := r.pending[0]
	r.pending = r.pending[1:]
	return p, nil
}

// Package framer turns the raw serial byte stream into newline delimited text lines.
package framer

import (
	"bytes"
	"strings"
)

// MaxLineLength bounds a single line. Longer lines (a boot dump at the wrong baud
// rate, a bridge that never sends a newline) are discarded whole.
const MaxLineLength = 16 * 1024

// Framer buffers partial lines between reads. It belongs to a single connection
// and is not safe for concurrent use.
type Framer struct {
	buf []byte
	// Inside an oversized line, bytes are dropped up to the next newline
	discarding bool
	overflows  uint64
}

func New() *Framer {
	return &Framer{}
}

// Push appends a chunk and returns every line it completed, in arrival order.
// Lines are trimmed; blank lines are dropped. The trailing partial line stays buffered.
func (f *Framer) Push(chunk []byte) []string {
	f.buf = append(f.buf, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(f.buf, '\n')
		if idx < 0 {
			break
		}
		raw := f.buf[:idx]
		f.buf = f.buf[idx+1:]

		if f.discarding {
			f.discarding = false
			continue
		}
		if len(raw) > MaxLineLength {
			f.overflows++
			continue
		}
		if line := strings.TrimSpace(string(raw)); line != "" {
			lines = append(lines, line)
		}
	}

	if len(f.buf) > MaxLineLength {
		if !f.discarding {
			f.overflows++
			f.discarding = true
		}
		f.buf = nil
	}

	// Release the consumed prefix once nothing is pending
	if len(f.buf) == 0 {
		f.buf = nil
	}
	return lines
}

// Pending is the number of buffered bytes not yet terminated by a newline.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Overflows counts the lines discarded for exceeding MaxLineLength.
func (f *Framer) Overflows() uint64 {
	return f.overflows
}

func (f *Framer) Reset() {
	f.buf = nil
	f.discarding = false
}

package link

import (
	"bytes"
	"strings"
)

// LineFramer splits a datagram stream into newline terminated lines.
//
// A trailing partial line is carried over and completed by the next Push, so a line split
// across two datagrams is delivered once, intact. Lines are trimmed and empty lines are skipped.
// LineFramer is not safe for concurrent use.
type LineFramer struct {
	carry     []byte
	maxLen    int
	overflows uint64
}

// NewLineFramer creates a framer that discards a partial line once it grows beyond maxLen bytes.
// maxLen <= 0 disables the limit.
func NewLineFramer(maxLen int) *LineFramer {
	return &LineFramer{maxLen: maxLen}
}

// Push appends data and returns the complete lines it finished, in order.
func (f *LineFramer) Push(data []byte) []string {
	var lines []string

	for len(data) > 0 {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			f.carry = append(f.carry, data...)
			if f.maxLen > 0 && len(f.carry) > f.maxLen {
				f.carry = f.carry[:0]
				f.overflows++
			}

			break
		}

		var line string
		if len(f.carry) > 0 {
			f.carry = append(f.carry, data[:idx]...)
			line = string(f.carry)
			f.carry = f.carry[:0]
		} else {
			line = string(data[:idx])
		}
		data = data[idx+1:]

		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}

	return lines
}

// Pending returns the number of buffered bytes of an unfinished line.
func (f *LineFramer) Pending() int {
	return len(f.carry)
}

// Overflows returns how many partial lines were discarded for exceeding the limit.
func (f *LineFramer) Overflows() uint64 {
	return f.overflows
}

// Reset discards any partial line.
func (f *LineFramer) Reset() {
	f.carry = f.carry[:0]
}

package ai

import "bytes"

// LineReassembler turns arbitrarily framed byte chunks into complete lines.
// A line is emitted only once its terminating '\n' has arrived; bytes after
// the last newline are held until more input comes in.
type LineReassembler struct {
	buf []byte
}

// Feed appends chunk to the pending buffer and returns every line completed by
// it, in arrival order, without the trailing newline. An empty chunk yields no
// lines.
func (r *LineReassembler) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	r.buf = append(r.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(r.buf, '\n')
		if i < 0 {
			break
		}
		lines = append(lines, string(r.buf[:i]))
		r.buf = r.buf[i+1:]
	}

	// compact so a long stream does not pin the whole history
	if len(r.buf) == 0 {
		r.buf = nil
	} else if cap(r.buf) > 64*1024 && len(r.buf) < cap(r.buf)/4 {
		r.buf = append([]byte(nil), r.buf...)
	}
	return lines
}

// Pending reports how many bytes are held back waiting for a newline.
func (r *LineReassembler) Pending() int { return len(r.buf) }

// Close drops any unterminated tail and returns its length in bytes.
func (r *LineReassembler) Close() int {
	n := len(r.buf)
	r.buf = nil
	return n
}

package link

import (
	"bytes"
	"context"
	"io"
	"strings"
)

const (
	// MaxLineLength caps the bytes buffered while waiting for a line ending.
	// Longer lines are dropped whole.
	MaxLineLength = 64 * 1024

	readChunkSize = 512
)

// LineReader splits the byte stream of a Link into lines. Unlike
// bufio.Scanner it tolerates reads that return no data, which is how serial
// ports report an expired read timeout, and it checks for cancellation
// between reads.
type LineReader struct {
	r       io.Reader
	buf     []byte
	pending []byte
	discard bool // dropping the tail of an overlong line
	err     error
}

// NewLineReader creates a LineReader reading from r.
func NewLineReader(r io.Reader) *LineReader {
	return &LineReader{
		r:   r,
		buf: make([]byte, readChunkSize),
	}
}

// ReadLine blocks until a complete line is available, ctx is done or the
// underlying reader fails. Lines already buffered are returned before a read
// error is reported. The returned line has the line ending and any invalid
// UTF-8 removed.
func (lr *LineReader) ReadLine(ctx context.Context) (string, error) {
	for {
		if i := bytes.IndexByte(lr.pending, '\n'); i >= 0 {
			line := clean(lr.pending[:i])
			lr.pending = append(lr.pending[:0], lr.pending[i+1:]...)

			if lr.discard {
				lr.discard = false
				continue
			}
			return line, nil
		}

		if lr.err != nil {
			return "", lr.err
		}

		if len(lr.pending) > MaxLineLength {
			lr.pending = lr.pending[:0]
			lr.discard = true
		}

		if err := ctx.Err(); err != nil {
			return "", err
		}

		n, err := lr.r.Read(lr.buf)
		if n > 0 {
			lr.pending = append(lr.pending, lr.buf[:n]...)
		}
		if err != nil {
			lr.err = err
		}
	}
}

func clean(raw []byte) string {
	return strings.ToValidUTF8(strings.TrimRight(string(raw), "\r"), "")
}

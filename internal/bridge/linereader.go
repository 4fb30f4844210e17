package bridge

import (
	"bytes"
	"io"
	"strings"
)

// lineReader accumulates newline-delimited lines from a Port whose Read
// honors a short timeout. A timed-out read yields an empty line instead of
// an error, so the caller's loop stays responsive to cancellation.
//
// bufio.Reader is unsuitable here: repeated zero-byte reads from a serial
// timeout trip its no-progress guard.
type lineReader struct {
	port Port
	buf  bytes.Buffer
	tmp  []byte
}

func newLineReader(port Port) *lineReader {
	return &lineReader{port: port, tmp: make([]byte, 256)}
}

// next returns the next complete line with framing stripped, or "" when no
// complete line arrived within one read timeout. Transport errors are
// returned as-is; io.EOF from a serial read timeout is treated as an empty
// tick, not an error.
func (lr *lineReader) next() (string, error) {
	if line, ok := lr.takeLine(); ok {
		return line, nil
	}

	n, err := lr.port.Read(lr.tmp)
	if n > 0 {
		lr.buf.Write(lr.tmp[:n])
	}
	if err != nil && err != io.EOF {
		return "", err
	}

	if line, ok := lr.takeLine(); ok {
		return line, nil
	}
	return "", nil
}

func (lr *lineReader) takeLine() (string, bool) {
	data := lr.buf.Bytes()
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return "", false
	}
	line := string(data[:idx])
	lr.buf.Next(idx + 1)
	return strings.TrimRight(line, "\r"), true
}

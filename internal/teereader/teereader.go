// Package teereader copies everything read from a source into a destination
// and reports, on Close, whether the source was consumed to the end.
package teereader

import (
	"errors"
	"io"
)

type Result struct {
	TotalRead int64
	Complete  bool
	ReadErr   error
	WriteErr  error
}

type TeeReader struct {
	src          io.Reader
	dest         io.Writer
	onClose      func(Result) error
	lastReadErr  error
	lastWriteErr error
	totalRead    int64
	complete     bool
	closed       bool
}

func New(src io.Reader, dest io.Writer, onClose func(Result) error) *TeeReader {
	return &TeeReader{src: src, dest: dest, onClose: onClose}
}

func (t *TeeReader) Read(p []byte) (int, error) {
	if t.lastWriteErr != nil || t.lastReadErr != nil {
		n, err := t.src.Read(p)
		t.totalRead += int64(n)
		return n, err
	}

	n, readErr := t.src.Read(p)
	if readErr != nil {
		if errors.Is(readErr, io.EOF) {
			t.complete = true
		} else {
			t.lastReadErr = readErr
		}
	}

	if n > 0 {
		if _, writeErr := t.dest.Write(p[:n]); writeErr != nil {
			t.lastWriteErr = writeErr
		}
	}

	t.totalRead += int64(n)
	return n, readErr
}

// Close runs the callback once, even if called multiple times.
func (t *TeeReader) Close() error {
	if t.closed {
		return nil
	}
	t.closed = true

	return t.onClose(Result{t.totalRead, t.complete, t.lastReadErr, t.lastWriteErr})
}

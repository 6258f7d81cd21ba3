// Package utils holds small helpers shared by the CLI entrypoint.
package utils

import (
	"bytes"
	"io"
	"sync"
)

// DeferredWriter buffers log output while the TUI owns the terminal. Flush
// replays it once the screen is released.
type DeferredWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (w *DeferredWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

// Flush writes the buffered output to dst and resets the buffer. Each
// buffered line is written separately so line-oriented writers such as
// zerolog.ConsoleWriter see one event per call.
func (w *DeferredWriter) Flush(dst io.Writer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	data := w.buf.Bytes()
	for len(data) > 0 {
		line := data
		if i := bytes.IndexByte(data, '\n'); i >= 0 {
			line = data[:i+1]
		}
		if _, err := dst.Write(line); err != nil {
			return err
		}
		data = data[len(line):]
	}
	w.buf.Reset()
	return nil
}

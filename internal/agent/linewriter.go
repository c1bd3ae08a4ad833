package agent

import (
	"bytes"
	"strings"
	"sync"
)

// maxLineBytes caps a buffered partial line. Longer lines are emitted in
// pieces so a runaway writer cannot grow the buffer without bound.
const maxLineBytes = 256 * 1024

// lineWriter implements io.Writer, splitting output into lines and invoking
// onLine for each complete one. The shared mutex serializes callbacks across
// every writer of the same run.
type lineWriter struct {
	mu     *sync.Mutex
	buf    bytes.Buffer
	onLine func(string)
}

func newLineWriter(mu *sync.Mutex, onLine func(string)) *lineWriter {
	return &lineWriter{mu: mu, onLine: onLine}
}

// Write appends p and emits every complete line.
func (w *lineWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			if w.buf.Len() > maxLineBytes {
				w.emit(w.buf.String())
				w.buf.Reset()
			}
			break
		}
		line := string(data[:i])
		w.buf.Next(i + 1)
		w.emit(line)
	}
	return len(p), nil
}

// Close emits any trailing partial line.
func (w *lineWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.buf.Len() > 0 {
		w.emit(w.buf.String())
		w.buf.Reset()
	}
	return nil
}

func (w *lineWriter) emit(line string) {
	line = strings.TrimRight(line, "\r")
	if strings.TrimSpace(line) == "" {
		return
	}
	w.onLine(line)
}

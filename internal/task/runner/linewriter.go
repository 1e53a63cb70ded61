package runner

import (
	"bytes"
	"io"
	"strings"
	"sync"
)

// lineWriter copies process output to w and reports each complete line,
// trimmed, to onLine. Invalid UTF-8 is replaced.
type lineWriter struct {
	mu     sync.Mutex
	w      io.Writer
	buf    []byte
	onLine func(string)
}

func newLineWriter(w io.Writer, onLine func(string)) *lineWriter {
	return &lineWriter{w: w, onLine: onLine}
}

func (lw *lineWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	lw.buf = append(lw.buf, p...)
	for {
		i := bytes.IndexByte(lw.buf, '\n')
		if i < 0 {
			break
		}
		lw.emit(lw.buf[:i+1])
		lw.buf = lw.buf[i+1:]
	}
	return len(p), nil
}

// Flush emits a trailing line without newline.
func (lw *lineWriter) Flush() {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if len(lw.buf) > 0 {
		lw.emit(append(lw.buf, '\n'))
		lw.buf = nil
	}
}

func (lw *lineWriter) emit(line []byte) {
	s := strings.ToValidUTF8(string(line), "�")
	_, _ = io.WriteString(lw.w, s)
	if t := strings.TrimSpace(s); t != "" && lw.onLine != nil {
		lw.onLine(t)
	}
}

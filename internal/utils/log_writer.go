package utils

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
)

// LogWriter is an io.Writer that emits every complete line written to it as a
// log record. Git progress output uses carriage returns, so both \r and \n end
// a line.
type LogWriter struct {
	mu     sync.Mutex
	logger *slog.Logger
	level  slog.Level
	msg    string
	buf    bytes.Buffer
}

func NewLogWriter(logger *slog.Logger, level slog.Level, msg string) *LogWriter {
	return &LogWriter{logger: logger, level: level, msg: msg}
}

func (w *LogWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		data := w.buf.Bytes()
		i := bytes.IndexAny(data, "\r\n")
		if i < 0 {
			break
		}
		w.emit(data[:i])
		w.buf.Next(i + 1)
	}
	return len(p), nil
}

// Close logs a trailing line without a terminator.
func (w *LogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.emit(w.buf.Bytes())
	w.buf.Reset()
	return nil
}

func (w *LogWriter) emit(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	w.logger.Log(context.Background(), w.level, w.msg, "line", string(line))
}

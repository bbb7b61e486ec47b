package feedback

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sync"
)

// WriterSink appends one line per record to an io.Writer.
type WriterSink struct {
	w  io.Writer
	mu sync.Mutex
}

// NewWriterSink wraps w.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: w}
}

// Append writes line followed by a newline. Lines must not contain a
// newline themselves.
func (s *WriterSink) Append(line []byte) error {
	if bytes.ContainsAny(line, "\r\n") {
		return fmt.Errorf("feedback: record spans multiple lines")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, 0, len(line)+1)
	buf = append(append(buf, line...), '\n')
	_, err := s.w.Write(buf)
	return err
}

// FileSink is a WriterSink over an append-only file.
type FileSink struct {
	*WriterSink
	f *os.File
}

// OpenFile opens path for appending, creating it if needed.
func OpenFile(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open feedback log: %w", err)
	}
	return &FileSink{WriterSink: NewWriterSink(f), f: f}, nil
}

// Path returns the file name.
func (s *FileSink) Path() string {
	return s.f.Name()
}

// Close flushes and closes the file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.f.Sync(); err != nil {
		s.f.Close()
		return err
	}
	return s.f.Close()
}

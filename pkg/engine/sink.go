package engine

import (
	"bufio"
	"io"
)

// Sink receives output lines in final order.
type Sink interface {
	WriteLine(line string) error
}

// flusher is implemented by sinks that buffer.
type flusher interface {
	Flush() error
}

// WriterSink writes newline-terminated lines to an io.Writer.
type WriterSink struct {
	w *bufio.Writer
}

// NewWriterSink buffers writes to w. The engine flushes after every
// consumed event and before returning.
func NewWriterSink(w io.Writer) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w)}
}

func (s *WriterSink) WriteLine(line string) error {
	if _, err := s.w.WriteString(line); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

func (s *WriterSink) Flush() error { return s.w.Flush() }

package log

import "io"

// MultiWriter fans log output out to every appender. A failing appender does
// not stop the others from receiving the line.
type MultiWriter struct {
	writers []io.Writer
}

func NewMultiWriter() *MultiWriter {
	return &MultiWriter{}
}

func (m *MultiWriter) Write(p []byte) (int, error) {
	var firstErr error
	for _, w := range m.writers {
		if _, err := w.Write(p); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return len(p), firstErr
}

func (m *MultiWriter) Add(writer io.Writer) *MultiWriter {
	m.writers = append(m.writers, writer)
	return m
}

// Close closes every appender that owns a resource, such as the rotating file.
func (m *MultiWriter) Close() error {
	var firstErr error
	for _, w := range m.writers {
		c, ok := w.(io.Closer)
		if !ok || c == nil {
			continue
		}
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

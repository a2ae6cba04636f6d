package sink

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Stream is an io.Writer that forwards each write to every registered writer, in the order they
// were registered. It's meant to be given to a zerolog.Logger, so that each log event reaches all
// of the application's sinks.
//
// Writers can be registered and unregistered by name at any time.
type Stream struct {
	mu      sync.RWMutex
	names   []string
	writers map[string]io.Writer
}

// NewStream creates a new Stream with no writers
func NewStream() *Stream {
	return &Stream{writers: make(map[string]io.Writer)}
}

// Register adds the writer under name, replacing any writer already registered with that name
func (s *Stream) Register(name string, w io.Writer) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.writers[name]; !ok {
		s.names = append(s.names, name)
	}
	s.writers[name] = w
}

// Unregister removes the writer registered under name, returning it. It does not close it.
func (s *Stream) Unregister(name string) (io.Writer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.writers[name]
	if !ok {
		return nil, false
	}

	delete(s.writers, name)
	for i, n := range s.names {
		if n == name {
			s.names = append(s.names[:i], s.names[i+1:]...)
			break
		}
	}
	return w, true
}

// Names returns the names of the registered writers, in order
func (s *Stream) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.names...)
}

// Write writes p to every registered writer. All writers are attempted; the first error is
// returned.
func (s *Stream) Write(p []byte) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var firstErr error
	for _, name := range s.names {
		if _, err := s.writers[name].Write(p); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "could not write to %q", name)
		}
	}
	if firstErr != nil {
		return 0, firstErr
	}
	return len(p), nil
}

// Close unregisters all writers and closes those that are io.Closers, concurrently, returning the
// first error.
func (s *Stream) Close() error {
	s.mu.Lock()
	names, writers := s.names, s.writers
	s.names, s.writers = nil, make(map[string]io.Writer)
	s.mu.Unlock()

	var g errgroup.Group
	for _, name := range names {
		name := name
		if c, ok := writers[name].(io.Closer); ok {
			g.Go(func() error {
				return errors.Wrapf(c.Close(), "could not close %q", name)
			})
		}
	}
	return g.Wait()
}

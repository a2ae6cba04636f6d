package sink

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sharnoff/faultline"
)

// DefaultFilePollInterval is the default poll interval of a [FileWriter]
const DefaultFilePollInterval = 100 * time.Millisecond

// FileWriter appends lines to a log file from a background goroutine
type FileWriter struct {
	*drainer
	path string
}

// NewFileWriter starts a FileWriter for the application with the given name, writing to a new file
// in dir named "<name>_<timestamp>.log.txt" (unless [WithFileName] is given). The directory is
// created if it doesn't exist.
//
// NewFileWriter returns once the background goroutine has opened the file and is ready to write,
// or with the error that prevented it.
func NewFileWriter(dir, name string, opts ...Option) (*FileWriter, error) {
	o := makeOptions(DefaultFilePollInterval, opts)
	if o.fileName == "" {
		o.fileName = name + "_" + faultline.FileTimestamp(time.Now()) + ".log.txt"
	}

	w := &FileWriter{
		drainer: newDrainer(o),
		path:    filepath.Join(dir, o.fileName),
	}

	ready := make(chan error, 1)
	go w.run(dir, ready)

	if err := <-ready; err != nil {
		return nil, err
	}
	return w, nil
}

func (w *FileWriter) run(dir string, ready chan<- error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		close(w.done)
		ready <- errors.Wrapf(err, "could not create log directory %q", dir)
		return
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		close(w.done)
		ready <- errors.Wrapf(err, "could not open log file %q", w.path)
		return
	}
	defer f.Close()

	buf := bufio.NewWriter(f)
	ready <- nil

	w.drainer.run(func(line string) error {
		if _, err := buf.WriteString(line); err != nil {
			return errors.Wrap(err, "could not write to log file")
		}
		if !strings.HasSuffix(line, "\n") {
			return buf.WriteByte('\n')
		}
		return nil
	}, func() error {
		return errors.Wrap(buf.Flush(), "could not flush log file")
	})
}

// Path returns the path of the log file
func (w *FileWriter) Path() string {
	return w.path
}

// Send queues the line to be written. A newline is added if the line doesn't end in one.
func (w *FileWriter) Send(line string) error {
	return w.send(line)
}

// Write implements io.Writer, queueing p as a single line
func (w *FileWriter) Write(p []byte) (int, error) {
	if err := w.send(string(p)); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close stops accepting lines, and waits until all queued lines are written and the file is
// closed.
func (w *FileWriter) Close() error {
	w.close()
	return nil
}

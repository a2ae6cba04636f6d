package sink_test

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/sharnoff/faultline/sink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	_ sink.Sink = (*sink.FileWriter)(nil)
	_ sink.Sink = (*sink.Blaster)(nil)
)

func TestFileWriter(t *testing.T) {
	a := assert.New(t)
	dir := filepath.Join(t.TempDir(), "logs")

	w, err := sink.NewFileWriter(dir, "myapp", sink.WithPollInterval(5*time.Millisecond))
	require.NoError(t, err)

	a.Regexp(regexp.MustCompile(`^myapp_\d{4}-\d{2}-\d{2}T\d{6}\.\d{3}Z\.log\.txt$`), filepath.Base(w.Path()))

	// the file exists as soon as the constructor returns
	_, err = os.Stat(w.Path())
	a.NoError(err)

	a.NoError(w.Send("first"))
	a.NoError(w.Send("second\n"))
	n, err := w.Write([]byte("third\n"))
	a.NoError(err)
	a.Equal(6, n)

	a.NoError(w.Close())
	a.NoError(w.Close())
	a.ErrorIs(w.Send("too late"), sink.ErrClosed)

	content, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	a.Equal("first\nsecond\nthird\n", string(content))
}

func TestFileWriterFlushesOnClose(t *testing.T) {
	a := assert.New(t)

	// Close waits for at most one poll interval before flushing
	w, err := sink.NewFileWriter(t.TempDir(), "app", sink.WithPollInterval(200*time.Millisecond), sink.WithFileName("fixed.log"))
	require.NoError(t, err)
	a.Equal("fixed.log", filepath.Base(w.Path()))

	for i := 0; i < 100; i += 1 {
		a.NoError(w.Send("line"))
	}

	start := time.Now()
	a.NoError(w.Close())
	a.Less(time.Since(start), 5*time.Second)

	content, err := os.ReadFile(w.Path())
	require.NoError(t, err)
	a.Equal(100, strings.Count(string(content), "line\n"))
}

func TestFileWriterBadDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := sink.NewFileWriter(filepath.Join(file, "logs"), "app")
	assert.Error(t, err)
}

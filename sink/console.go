package sink

import (
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/term"
)

// NewConsole returns a human-readable zerolog writer for f, with color only if f is a terminal
func NewConsole(f *os.File) io.Writer {
	return zerolog.ConsoleWriter{
		Out:        f,
		NoColor:    !term.IsTerminal(int(f.Fd())),
		TimeFormat: "2006-01-02 15:04:05.000",
	}
}

// NewLogger creates a logger writing to w at the given level, with timestamps and the application
// name on every event.
func NewLogger(w io.Writer, level zerolog.Level, app string) zerolog.Logger {
	return zerolog.New(w).Level(level).With().Timestamp().Str("app", app).Logger()
}

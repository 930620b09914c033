package logger

import (
	"io"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds the process logger. format "text" selects the console writer;
// anything else emits JSON lines. Unknown levels fall back to info. Output
// always passes through a RedactWriter.
func New(w io.Writer, level, format string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	if strings.EqualFold(format, "text") {
		cw := zerolog.NewConsoleWriter()
		cw.Out = NewRedactWriter(w)
		return zerolog.New(cw).Level(lvl).With().Timestamp().Logger()
	}
	return zerolog.New(NewRedactWriter(w)).Level(lvl).With().Timestamp().Logger()
}

// FileOptions controls rotation of a log file.
type FileOptions struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Output returns console for an empty path or "console", else a rotating file
// writer. The caller closes the returned closer, which is a no-op for console.
func Output(console io.Writer, opts FileOptions) (io.Writer, io.Closer) {
	if opts.Path == "" || opts.Path == "console" {
		return console, nopCloser{}
	}
	lj := &lumberjack.Logger{
		Filename:   filepath.ToSlash(opts.Path),
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
		MaxAge:     opts.MaxAgeDays,
		Compress:   true,
	}
	return lj, lj
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

package calcmq

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// NewLogger builds the root logger for a process. Unknown levels fall back
// to info. When pretty is set, output is formatted for a terminal.
func NewLogger(w io.Writer, level string, pretty bool) zerolog.Logger {
	if w == nil {
		w = os.Stderr
	}
	if pretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05.000"}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}

	return zerolog.New(w).Level(lvl).With().
		Timestamp().
		Str("app", "calcmq").
		Logger()
}

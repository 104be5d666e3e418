package config

import (
	"os"

	"github.com/phuslu/log"
)

// InitLogger installs the process-wide logger. Terminals get the console
// writer; anything else gets JSON lines on stderr.
func InitLogger(level string) {
	var w log.Writer = &log.IOWriter{Writer: os.Stderr}
	if log.IsTerminal(os.Stderr.Fd()) {
		w = &log.ConsoleWriter{ColorOutput: true, QuoteString: true}
	}
	log.DefaultLogger = log.Logger{
		Level:      log.ParseLevel(level),
		TimeFormat: "15:04:05",
		Writer:     w,
	}
}

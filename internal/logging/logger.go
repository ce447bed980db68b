package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/kingrea/apsboard/internal/config"
)

// FileName is the process log kept next to the journey log.
const FileName = "apsboard.log"

// Setup configures zerolog for a command writing to w. Terminals get the
// console writer; anything else gets JSON lines.
func Setup(w io.Writer, verbose bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	if f, ok := w.(*os.File); ok && (f == os.Stdout || f == os.Stderr) {
		w = zerolog.ConsoleWriter{Out: f, TimeFormat: time.Kitchen}
	}
	return zerolog.New(w).With().Timestamp().Logger().Level(level)
}

// File is a JSON process log under .apsboard/logs so failures can be
// inspected after the dashboard releases the terminal.
type File struct {
	file *os.File
}

// Open creates (or reuses) the process log for cfg and returns a logger
// writing to it.
func Open(cfg *config.Config, verbose bool) (*File, zerolog.Logger, error) {
	logDir := cfg.LogsDir()
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("logging: ensure log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, FileName), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, zerolog.Nop(), fmt.Errorf("logging: open log file: %w", err)
	}
	return &File{file: f}, Setup(f, verbose), nil
}

// Close releases the file handle.
func (l *File) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Package logging configures the process-wide zerolog logger: a
// human-readable console writer on stdout paired with a JSON file sink,
// mirroring the teacher's dual stdout+file MultiWriter shape but at finer
// grain, one writer per format instead of one writer for both.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const defaultLogFile = "logs/scheduler.log"

// New builds a zerolog.Logger writing to stdout (console-formatted) and to
// a JSON-formatted file sink at file, or at logs/scheduler.log when file is
// empty; the file's directory is created if missing. level is parsed
// case-insensitively; an unrecognized level falls back to info.
func New(level, file string) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	writers := []io.Writer{console}

	if file == "" {
		file = defaultLogFile
	}
	if dir := filepath.Dir(file); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return zerolog.Logger{}, err
		}
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return zerolog.Logger{}, err
	}
	writers = append(writers, f)

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().
		Timestamp().
		Logger()
	return logger, nil
}

// Package logger builds the zap loggers used across lmchat.
package logger

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// NewLogger returns a console logger writing to w. Levels are colored only
// when w is a terminal, since chat transcripts are often piped to files.
func NewLogger(w io.Writer, debug bool) *zap.Logger {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	if IsTerminal(w) {
		encoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	level := zap.InfoLevel
	if debug {
		level = zap.DebugLevel
	}

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)

	return zap.New(core, zap.AddCaller())
}

// Quiet raises l to warn level unless debug is set. Interactive commands use
// it so info logs do not interleave with the transcript.
func Quiet(l *zap.Logger, debug bool) *zap.Logger {
	if debug {
		return l
	}
	return l.WithOptions(zap.IncreaseLevel(zap.WarnLevel))
}

// IsTerminal reports whether w is a file attached to a terminal.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

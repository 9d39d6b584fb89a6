package cli

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the operator log on stderr: colored console lines on a
// terminal, JSON otherwise. --verbose enables debug level.
func newLogger(globals *Globals) *zap.Logger {
	level := zap.InfoLevel
	if globals.Verbose {
		level = zap.DebugLevel
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if isTerminal(globals.Stderr) {
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		enc = zapcore.NewConsoleEncoder(cfg)
	} else {
		enc = zapcore.NewJSONEncoder(cfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(globals.Stderr), zap.NewAtomicLevelAt(level))
	return zap.New(core)
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && (isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()))
}

package observ

import (
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

	loggerMu sync.RWMutex
	logger   = newLogger()
)

func newLogger() *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.MessageKey = "event"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), zapcore.Lock(os.Stdout), level)
	return zap.New(core)
}

// SetLogger replaces the process logger. Tests install zap.NewNop() or an
// observer core here.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Logger returns the process logger
func Logger() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// SetLevel parses a level name ("debug", "info", "warn", "error") and applies
// it to the default logger.
func SetLevel(name string) error {
	lvl, err := zapcore.ParseLevel(name)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

// Log writes one structured info line named by event.
func Log(event string, kv map[string]any) {
	write(zapcore.InfoLevel, event, kv)
}

// Debug writes a debug line; used for per-frame and per-fold diagnostics.
func Debug(event string, kv map[string]any) {
	write(zapcore.DebugLevel, event, kv)
}

// Warn writes a warning line
func Warn(event string, kv map[string]any) {
	write(zapcore.WarnLevel, event, kv)
}

func write(lvl zapcore.Level, event string, kv map[string]any) {
	ce := Logger().Check(lvl, event)
	if ce == nil {
		return
	}
	ce.Write(fields(kv)...)
}

// fields converts a loose map into zap fields with a stable key order
func fields(kv map[string]any) []zap.Field {
	if len(kv) == 0 {
		return nil
	}
	keys := make([]string, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, kv[k]))
	}
	return out
}

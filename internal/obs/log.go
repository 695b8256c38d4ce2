package obs

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	loggerOnce sync.Once
	logger     *zap.Logger
	level      = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	out        = &switchWriter{w: os.Stdout}
)

// switchWriter lets tests redirect the shared logger without rebuilding it.
type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) Sync() error { return nil }

// Logger returns the shared structured logger used across the service.
func Logger() *zap.Logger {
	loggerOnce.Do(func() {
		enc := zap.NewProductionEncoderConfig()
		enc.TimeKey = "ts"
		enc.LevelKey = "level"
		enc.MessageKey = "msg"
		enc.CallerKey = ""
		enc.StacktraceKey = ""
		enc.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		enc.EncodeLevel = zapcore.LowercaseLevelEncoder
		core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), out, level)
		logger = zap.New(core)
	})
	return logger
}

// SetOutput redirects log output and returns a func restoring the previous writer.
func SetOutput(w io.Writer) func() {
	out.mu.Lock()
	prev := out.w
	out.w = w
	out.mu.Unlock()
	return func() {
		out.mu.Lock()
		out.w = prev
		out.mu.Unlock()
	}
}

// SetLevel changes the minimum enabled level ("debug", "info", "warn", "error").
func SetLevel(name string) error {
	return level.UnmarshalText([]byte(name))
}

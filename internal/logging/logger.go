package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/hamed0406/loadprobe/internal/config"
)

const fileName = "loadprobe.log"

// NewLogger builds the JSON logger shared by every worker. With an empty
// Dir records go to stderr; otherwise to a rotated file under Dir.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var w zapcore.WriteSyncer
	if cfg.Dir == "" {
		w = zapcore.Lock(os.Stderr)
	} else {
		if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
			return nil, err
		}
		w = zapcore.AddSync(&lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, fileName),
			MaxSize:    10, // MB
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		})
	}
	return newLogger(w, level), nil
}

// NewWriterLogger logs to w. Tests use it to inspect records.
func NewWriterLogger(w io.Writer, level zapcore.Level) *zap.Logger {
	return newLogger(zapcore.AddSync(w), level)
}

func newLogger(w zapcore.WriteSyncer, level zapcore.Level) *zap.Logger {
	enc := zap.NewProductionEncoderConfig()
	enc.TimeKey = "ts"
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(enc), w, level)
	return zap.New(core)
}

// ForRun tags every record of this process so that logs from several
// concurrently running generators can be told apart.
func ForRun(l *zap.Logger, cfg config.Config) *zap.Logger {
	return l.With(
		zap.String("run_id", ulid.Make().String()),
		zap.String("mode", string(cfg.Mode)),
		zap.String("target", cfg.Target()),
	)
}

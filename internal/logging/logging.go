// Package logging builds the daemon's zap loggers: a leveled application logger
// writing to stderr and optionally a rotating file, plus an audit logger that
// only records security relevant events.
package logging

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

type Config struct {
	Level       string
	File        string
	AuditFile   string
	Development bool
	// Console overrides stderr, mainly for tests.
	Console io.Writer
}

// Logger is the application logger. Audit writes to the audit sink, which is a
// no-op when no audit file is configured.
type Logger struct {
	*zap.Logger
	audit   *zap.Logger
	closers []io.Closer
}

func New(cfg Config) (*Logger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, errors.Wrapf(err, "log level %q", cfg.Level)
		}
	}

	encCfg := zap.NewProductionEncoderConfig()
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
	}
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)

	var console io.Writer = os.Stderr
	if cfg.Console != nil {
		console = cfg.Console
	}
	cores := []zapcore.Core{
		zapcore.NewCore(zapcore.NewConsoleEncoder(encCfg), zapcore.AddSync(console), level),
	}

	l := &Logger{}
	if cfg.File != "" {
		rot, err := rotating(cfg.File)
		if err != nil {
			return nil, err
		}
		l.closers = append(l.closers, rot)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(rot), level))
	}
	l.Logger = zap.New(zapcore.NewTee(cores...), zap.AddCaller())

	l.audit = zap.NewNop()
	if cfg.AuditFile != "" {
		rot, err := rotating(cfg.AuditFile)
		if err != nil {
			_ = l.Close()
			return nil, err
		}
		l.closers = append(l.closers, rot)
		auditCfg := zap.NewProductionEncoderConfig()
		auditCfg.TimeKey = "ts"
		auditCfg.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		l.audit = zap.New(zapcore.NewCore(zapcore.NewJSONEncoder(auditCfg), zapcore.AddSync(rot), zap.InfoLevel)).
			Named("audit")
	}
	return l, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: zap.NewNop(), audit: zap.NewNop()}
}

func rotating(path string) (*lumberjack.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // megabytes
		MaxBackups: 5,
		MaxAge:     14, // days
		Compress:   true,
	}, nil
}

// Audit records event with fields in the audit log.
func (l *Logger) Audit(event string, fields ...zap.Field) {
	l.audit.Info(event, fields...)
}

func (l *Logger) Close() error {
	_ = l.Logger.Sync()
	_ = l.audit.Sync()
	var first error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

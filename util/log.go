package util

import (
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mit-pdos/go-lfs/config"
)

var (
	logMu  sync.Mutex
	logger = zap.NewNop()
)

// InitLog replaces the process-wide logger. With cfg.File set, JSON lines
// go to a rotated file; otherwise a console encoder writes to stderr.
func InitLog(cfg config.Log) error {
	var level zapcore.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return err
	}
	var core zapcore.Core
	if cfg.File != "" {
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
		})
		core = zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), w, level)
	} else {
		enc := zap.NewDevelopmentEncoderConfig()
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.Lock(os.Stderr), level)
	}
	SetLogger(zap.New(core))
	return nil
}

func SetLogger(l *zap.Logger) {
	logMu.Lock()
	logger = l
	logMu.Unlock()
}

func Logger() *zap.Logger {
	logMu.Lock()
	defer logMu.Unlock()
	return logger
}

func sugar() *zap.SugaredLogger {
	return Logger().Sugar()
}

func Sync() {
	_ = Logger().Sync()
}

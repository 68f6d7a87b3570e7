package utils

import (
	"os"
	"time"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/qiware/rtmq/config"
)

// InitLogger builds a *zap.Logger from a LogConfig, generalizing the
// teacher's utils/log.go package-init build (which read a global
// config.GlobalCfg at import time) into an explicit constructor the broker
// calls once it has parsed its own config — config is supplied, not a
// build-time global.
func InitLogger(cfg config.LogConfig) *zap.Logger {
	enabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool {
		return lvl >= levelMap[cfg.Level]
	})

	encoderConfig := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	cores := make([]zapcore.Core, 0, 2)

	if cfg.Path != "" {
		hook := &lumberjack.Logger{
			Filename:   cfg.Path,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
		files := zapcore.AddSync(hook)
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(encoderConfig), files, enabler))
	}
	if cfg.Console || cfg.Path == "" {
		consoleEncoder := zapcore.NewConsoleEncoder(encoderConfig)
		cores = append(cores, zapcore.NewCore(consoleEncoder, zapcore.Lock(zapcore.AddSync(os.Stdout)), enabler))
	}

	core := zapcore.NewTee(cores...)
	return zap.New(core, zap.AddCaller())
}

func TimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05.000"))
}

var levelMap = map[string]zapcore.Level{
	"debug":  zapcore.DebugLevel,
	"info":   zapcore.InfoLevel,
	"warn":   zapcore.WarnLevel,
	"error":  zapcore.ErrorLevel,
	"dpanic": zapcore.DPanicLevel,
	"panic":  zapcore.PanicLevel,
	"fatal":  zapcore.FatalLevel,
}

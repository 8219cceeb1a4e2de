package logger

import (
	"os"
	"path"

	"github.com/xIceArcher/go-livewatch/config"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Init builds the process logger and installs it as the zap global.
// Everything at or above the configured level goes to info.log and stdout, errors also go to error.log.
func Init(cfg config.LogConfig) (*zap.SugaredLogger, error) {
	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	infoWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path.Join(cfg.LogPath, "info.log"),
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     7,
	})

	errorWriter := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path.Join(cfg.LogPath, "error.log"),
		MaxSize:    50,
		MaxBackups: 3,
		MaxAge:     28,
	})

	encoder := newEncoder(cfg.JSON)
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, infoWriter, level),
		zapcore.NewCore(encoder, errorWriter, zap.ErrorLevel),
		zapcore.NewCore(encoder, os.Stdout, level),
	)

	logger := zap.New(core, zap.ErrorOutput(os.Stderr))
	zap.ReplaceGlobals(logger)
	return logger.Sugar(), nil
}

func newEncoder(json bool) zapcore.Encoder {
	if json {
		return zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	}
	return zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
}

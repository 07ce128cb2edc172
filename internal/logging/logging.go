package logging

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps the LOG_LEVEL vocabulary onto zap levels. Unknown values
// fall back to def.
func ParseLevel(l string, def zapcore.Level) zapcore.Level {
	switch l {
	case "dev", "development", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error", "production", "prod":
		return zapcore.ErrorLevel
	}
	return def
}

// NewServer builds the JSON logger used by the gateway. Default level is info.
func NewServer(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(ParseLevel(level, zapcore.InfoLevel))
	cfg.Sampling = nil
	return cfg.Build()
}

// NewCLI builds a console logger on stderr. Default level is error so that
// only failures show up next to the terminal UI.
func NewCLI(level string) *zap.Logger {
	if level == "" {
		level = os.Getenv("LOG_LEVEL")
	}
	encCfg := zap.NewDevelopmentEncoderConfig()
	encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encCfg),
		zapcore.Lock(os.Stderr),
		ParseLevel(level, zapcore.ErrorLevel),
	)
	return zap.New(core)
}

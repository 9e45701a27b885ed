package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates the process logger tagged with the name of the binary
func New(environment, process string) (*zap.Logger, error) {
	var config zap.Config

	if environment == "production" {
		config = zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	config.InitialFields = map[string]interface{}{
		"process":     process,
		"environment": environment,
	}

	return config.Build(zap.AddCaller())
}

// ForEntity returns a child logger for a component bound to one entity kind
func ForEntity(log *zap.Logger, component, kind string) *zap.Logger {
	return log.Named(component).With(zap.String("entity", kind))
}

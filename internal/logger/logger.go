package logger

import (
	"go.uber.org/zap"
)

// New builds the process logger. Production environments log JSON at info
// level, everything else gets the development console encoder.
func New(env string) (*zap.Logger, error) {
	var config zap.Config
	switch env {
	case "prod", "production":
		config = zap.NewProductionConfig()
	default:
		config = zap.NewDevelopmentConfig()
	}
	config.OutputPaths = []string{"stdout"}
	config.ErrorOutputPaths = []string{"stderr"}

	return config.Build()
}

// Must is New for main packages.
func Must(env string) *zap.Logger {
	logger, err := New(env)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	return logger
}

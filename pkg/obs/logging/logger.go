package logging

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
)

// New builds a zap.Logger for the given component, JSON in production mode
// and console-formatted otherwise.
func New(component string, development bool) (*zap.Logger, error) {
	var cfg zap.Config
	if development {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("component", component)), nil
}

// AsLogr adapts a zap.Logger to logr.Logger for components that accept the
// generic logr interface instead of a concrete zap dependency.
func AsLogr(l *zap.Logger) logr.Logger {
	return zapr.NewLogger(l)
}

package shopagent

import (
	"github.com/goliatone/go-logger/glog"
)

// Logger is the structured logger used across the module.
type Logger = glog.Logger

// LoggerProvider hands out named loggers, e.g. "shopagent.gateway".
type LoggerProvider interface {
	GetLogger(name string) Logger
}

type staticLoggerProvider struct {
	logger Logger
}

func (p staticLoggerProvider) GetLogger(string) Logger {
	return p.logger
}

func defaultLogger() Logger {
	return glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Info),
		glog.WithName("shopagent"),
		glog.WithAddSource(false),
	).GetLogger("shopagent")
}

// DefaultLogger returns the module wide fallback logger.
func DefaultLogger() Logger {
	return defaultLogger()
}

// ResolveLogger returns a provider and a scoped logger for name. A provider
// wins over an explicit logger; when the provider yields nil the explicit
// logger is used, and when both are missing the default logger is used.
func ResolveLogger(name string, provider LoggerProvider, logger Logger) (LoggerProvider, Logger) {
	if provider != nil {
		if resolved := provider.GetLogger(name); resolved != nil {
			return provider, resolved
		}
	}

	if logger == nil {
		logger = defaultLogger()
	}

	return staticLoggerProvider{logger: logger}, logger
}

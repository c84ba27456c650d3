package stackforge

import (
	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
)

// zapLogger adapts a zap logger to runtime.Logger for use outside the game server.
type zapLogger struct {
	logger *zap.SugaredLogger
	fields map[string]interface{}
}

// NewZapLogger wraps logger as a runtime.Logger.
func NewZapLogger(logger *zap.Logger) runtime.Logger {
	return &zapLogger{
		logger: logger.Sugar(),
		fields: make(map[string]interface{}),
	}
}

func (l *zapLogger) Debug(format string, v ...interface{}) { l.logger.Debugf(format, v...) }
func (l *zapLogger) Info(format string, v ...interface{})  { l.logger.Infof(format, v...) }
func (l *zapLogger) Warn(format string, v ...interface{})  { l.logger.Warnf(format, v...) }
func (l *zapLogger) Error(format string, v ...interface{}) { l.logger.Errorf(format, v...) }

func (l *zapLogger) WithField(key string, v interface{}) runtime.Logger {
	return l.WithFields(map[string]interface{}{key: v})
}

func (l *zapLogger) WithFields(fields map[string]interface{}) runtime.Logger {
	merged := make(map[string]interface{}, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	args := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		merged[k] = v
		args = append(args, k, v)
	}
	return &zapLogger{
		logger: l.logger.With(args...),
		fields: merged,
	}
}

func (l *zapLogger) Fields() map[string]interface{} {
	return l.fields
}

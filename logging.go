package keyspace

import (
	"log"

	"github.com/sirupsen/logrus"

	"github.com/efritz/keyspace/iface"
)

type (
	// Logger is an interface to the logger the client writes to.
	Logger = iface.Logger

	defaultLogger struct{}
	nilLogger     struct{}

	logrusShim struct {
		logger logrus.FieldLogger
	}
)

// NewNilLogger creates a silent logger.
func NewNilLogger() Logger {
	return &nilLogger{}
}

// NewLogrusLogger adapts a logrus logger (or a tagged entry created
// with WithField) to the Logger interface.
func NewLogrusLogger(logger logrus.FieldLogger) Logger {
	return &logrusShim{logger: logger}
}

func (l *defaultLogger) Printf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

func (l *nilLogger) Printf(format string, args ...interface{}) {
}

func (l *logrusShim) Printf(format string, args ...interface{}) {
	l.logger.Printf(format, args...)
}

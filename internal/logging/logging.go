// Package logging holds the logger shared by the library packages.
package logging

import (
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu     sync.RWMutex
	logger logrus.FieldLogger = logrus.StandardLogger()
)

// Logger returns the current logger.
func Logger() logrus.FieldLogger {
	mu.RLock()
	defer mu.RUnlock()
	return logger
}

// SetLogger replaces the logger. A nil logger restores the logrus standard logger.
func SetLogger(l logrus.FieldLogger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = logrus.StandardLogger()
	}
	logger = l
}

// WithComponent returns an entry tagged with the component name.
func WithComponent(name string) *logrus.Entry {
	return Logger().WithField("component", name)
}

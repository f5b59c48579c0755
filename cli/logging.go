package cli

import (
	"io"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/digitorus/pades/config"
	"github.com/digitorus/pades/internal/logging"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setupLogging installs the logger of the library packages. The returned
// closer releases the log file.
func setupLogging(cfg config.Log, stderr io.Writer) (io.Closer, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	var closer io.Closer = nopCloser{}
	logger.SetOutput(stderr)
	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
		logger.SetOutput(io.MultiWriter(stderr, file))
		closer = file
	}

	logging.SetLogger(logger)
	return closer, nil
}

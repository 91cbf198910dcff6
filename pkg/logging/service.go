package logging

import (
	"os"

	"github.com/NotCoffee418/nextpm_monitor/pkg/config"
	"github.com/sirupsen/logrus"
)

const timestampFormat = "2006-01-02 15:04:05"

// NewLogger builds the process logger from the [log] config section.
// Unknown levels fall back to info, a broken log file falls back to stdout.
func NewLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: timestampFormat,
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: timestampFormat,
		})
	}

	if cfg.File != "" {
		file, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("Failed to open log file %s, using stdout: %v", cfg.File, err)
		}
	}

	return log
}

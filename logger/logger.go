package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/Tutortoise/freshtrack-service/config"
	"github.com/sirupsen/logrus"
)

// New builds the process logger. Output goes to stdout and, when
// cfg.LogFile is set, is also appended to that file.
func New(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	log.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		log.SetLevel(logrus.DebugLevel)
	}

	log.SetOutput(os.Stdout)
	if cfg.LogFile != "" {
		file, err := openLogFile(cfg.LogFile)
		if err != nil {
			log.WithError(err).Warn("Failed to log to file, using stdout only")
		} else {
			log.SetOutput(io.MultiWriter(os.Stdout, file))
		}
	}

	return log
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
}

package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log *logrus.Logger

func init() {
	Init("info")
}

// Init configures the package logger. Unknown levels fall back to info.
func Init(level string) {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02T15:04:05Z07:00",
	})
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	l.SetLevel(parsed)
	log = l
}

// WithFields returns an entry carrying structured fields.
func WithFields(fields map[string]interface{}) *logrus.Entry {
	return log.WithFields(logrus.Fields(fields))
}

func Debug(args ...interface{}) { log.Debug(args...) }

func Debugf(format string, args ...interface{}) { log.Debugf(format, args...) }

func Info(args ...interface{}) { log.Info(args...) }

func Infof(format string, args ...interface{}) { log.Infof(format, args...) }

func Warn(args ...interface{}) { log.Warn(args...) }

func Warnf(format string, args ...interface{}) { log.Warnf(format, args...) }

func Error(args ...interface{}) { log.Error(args...) }

func Errorf(format string, args ...interface{}) { log.Errorf(format, args...) }

func Fatal(args ...interface{}) { log.Fatal(args...) }

func Fatalf(format string, args ...interface{}) { log.Fatalf(format, args...) }

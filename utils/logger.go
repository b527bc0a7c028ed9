package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	InfoLogger  = newLogger(os.Stdout, logrus.InfoLevel)
	ErrorLogger = newLogger(os.Stderr, logrus.ErrorLevel)
)

func newLogger(out io.Writer, level logrus.Level) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	l.SetLevel(level)
	return l
}

// InitLogger resets both loggers. When logFile is set, output is also
// written to a rotating file.
func InitLogger(logFile ...string) {
	infoOut := io.Writer(os.Stdout)
	errOut := io.Writer(os.Stderr)

	if len(logFile) > 0 && logFile[0] != "" {
		rotating := &lumberjack.Logger{
			Filename:   logFile[0],
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}
		infoOut = io.MultiWriter(os.Stdout, rotating)
		errOut = io.MultiWriter(os.Stderr, rotating)
	}

	InfoLogger = newLogger(infoOut, logrus.InfoLevel)
	ErrorLogger = newLogger(errOut, logrus.ErrorLevel)
}

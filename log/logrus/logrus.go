package logrus

import (
	"github.com/sirupsen/logrus"
	"github.com/unkn0wn-root/shopsync"
)

var _ shopsync.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New returns a logger writing JSON at level, tagged component=shopsync.
func New(level string) (LogrusLogger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return LogrusLogger{}, err
	}
	l := logrus.New()
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{})
	return LogrusLogger{E: logrus.NewEntry(l).WithField("component", "shopsync")}, nil
}

func (l LogrusLogger) Debug(msg string, f shopsync.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f shopsync.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f shopsync.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f shopsync.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}

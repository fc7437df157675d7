// Package logger provides the leveled logger every long-lived component
// holds a reference to. It is a thin wrapper over logrus so call sites read
// the same way across the tracker, the peer server and the download
// manager: New(name) followed by Debugln/Infof/Warningln/Errorln.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the contract every component depends on.
type Logger interface {
	Debugln(args ...interface{})
	Debugf(format string, args ...interface{})
	Infoln(args ...interface{})
	Infof(format string, args ...interface{})
	Warningln(args ...interface{})
	Warningf(format string, args ...interface{})
	Errorln(args ...interface{})
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
}

type logrusLogger struct {
	entry *logrus.Entry
}

var base = func() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return l
}()

// New returns a Logger tagged with name, e.g. New("tracker") or
// New("peer <- 10.0.0.5:51413").
func New(name string) Logger {
	return &logrusLogger{entry: base.WithField("component", name)}
}

// SetLevel adjusts verbosity for all loggers created via New.
func SetLevel(level logrus.Level) {
	base.SetLevel(level)
}

func (l *logrusLogger) Debugln(args ...interface{})                 { l.entry.Debugln(args...) }
func (l *logrusLogger) Debugf(format string, args ...interface{})   { l.entry.Debugf(format, args...) }
func (l *logrusLogger) Infoln(args ...interface{})                  { l.entry.Infoln(args...) }
func (l *logrusLogger) Infof(format string, args ...interface{})    { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warningln(args ...interface{})               { l.entry.Warnln(args...) }
func (l *logrusLogger) Warningf(format string, args ...interface{}) { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorln(args ...interface{})                 { l.entry.Errorln(args...) }
func (l *logrusLogger) Errorf(format string, args ...interface{})   { l.entry.Errorf(format, args...) }
func (l *logrusLogger) Error(args ...interface{})                   { l.entry.Error(args...) }

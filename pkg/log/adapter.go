package log

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
)

// BadgerLogrusAdapter implements badger.Logger using logrus.
// Badger's info chatter (compactions, value log GC) is demoted to debug.
type BadgerLogrusAdapter struct {
	*logrus.Entry
}

// NewBadgerLogrusAdapter creates a new adapter
func NewBadgerLogrusAdapter(entry *logrus.Entry) *BadgerLogrusAdapter {
	return &BadgerLogrusAdapter{entry.WithField("component", "badger")}
}

// Errorf logs an error message
func (l *BadgerLogrusAdapter) Errorf(f string, v ...interface{}) {
	l.Entry.Errorf(strings.TrimSpace(f), v...)
}

// Warningf logs a warning message
func (l *BadgerLogrusAdapter) Warningf(f string, v ...interface{}) {
	l.Entry.Warnf(strings.TrimSpace(f), v...)
}

// Infof logs at debug level
func (l *BadgerLogrusAdapter) Infof(f string, v ...interface{}) {
	l.Entry.Debugf(strings.TrimSpace(f), v...)
}

// Debugf logs a debug message
func (l *BadgerLogrusAdapter) Debugf(f string, v ...interface{}) {
	l.Entry.Tracef(strings.TrimSpace(f), v...)
}

// RedisLogrusAdapter satisfies go-redis' internal logging interface (redis.SetLogger)
type RedisLogrusAdapter struct {
	entry *logrus.Entry
}

// NewRedisLogrusAdapter creates a redis logger that writes warnings through entry
func NewRedisLogrusAdapter(entry *logrus.Entry) *RedisLogrusAdapter {
	return &RedisLogrusAdapter{entry: entry.WithField("component", "redis")}
}

// Printf logs a redis client message
func (l *RedisLogrusAdapter) Printf(_ context.Context, format string, v ...interface{}) {
	l.entry.Warnf(strings.TrimSpace(format), v...)
}

package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/seantiz/mapbridge/internal/tilecache"
)

// LogTarget receives log records on the loop.
type LogTarget interface {
	Log(level tilecache.Level, msg string)
}

// LogTargetFunc adapts a function to a LogTarget.
type LogTargetFunc func(level tilecache.Level, msg string)

// Log calls f.
func (f LogTargetFunc) Log(level tilecache.Level, msg string) {
	f(level, msg)
}

type slogTarget struct {
	logger *slog.Logger
}

// SlogTarget writes records to logger at the closest slog level.
func SlogTarget(logger *slog.Logger) LogTarget {
	return slogTarget{logger: logger}
}

func (t slogTarget) Log(level tilecache.Level, msg string) {
	t.logger.Log(context.Background(), slogLevel(level), msg, "level_name", level.String())
}

type logrusTarget struct {
	logger logrus.FieldLogger
}

// LogrusTarget writes records to a logrus logger.
func LogrusTarget(logger logrus.FieldLogger) LogTarget {
	return logrusTarget{logger: logger}
}

func (t logrusTarget) Log(level tilecache.Level, msg string) {
	entry := t.logger.WithField("level_name", level.String())
	switch {
	case level <= tilecache.LevelDebug:
		entry.Debug(msg)
	case level <= tilecache.LevelNotice:
		entry.Info(msg)
	case level == tilecache.LevelWarn:
		entry.Warn(msg)
	default:
		entry.Error(msg)
	}
}

type brokerTarget struct {
	broker *LogBroker
	topic  string
}

// BrokerTarget publishes records to topic on b.
func BrokerTarget(b *LogBroker, topic string) LogTarget {
	return brokerTarget{broker: b, topic: topic}
}

func (t brokerTarget) Log(level tilecache.Level, msg string) {
	t.broker.Publish(t.topic, LogEvent{
		Time:      time.Now().UTC(),
		Level:     int(level),
		LevelName: level.String(),
		Message:   msg,
	})
}

type multiTarget []LogTarget

// MultiTarget delivers each record to every target in order.
func MultiTarget(targets ...LogTarget) LogTarget {
	return multiTarget(targets)
}

func (m multiTarget) Log(level tilecache.Level, msg string) {
	for _, t := range m {
		t.Log(level, msg)
	}
}

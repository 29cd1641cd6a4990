// Package logging provides the zerolog-backed implementation of semsql.Logger.
package logging

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// DefaultLogger is a structured logger backed by zerolog.
type DefaultLogger struct {
	logger  zerolog.Logger
	sampler zerolog.Sampler
	sampled zerolog.Logger
}

// New creates a DefaultLogger writing to stderr with RFC3339 timestamps.
// Warn/Error levels are sampled if SEMSQL_LOG_SAMPLE_N is set to an integer > 1.
func New() *DefaultLogger {
	l := zerolog.New(os.Stderr).With().Timestamp().Logger()
	var samp zerolog.Sampler
	if v := os.Getenv("SEMSQL_LOG_SAMPLE_N"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			samp = zerolog.RandomSampler(n)
		}
	}
	var sampled zerolog.Logger
	if samp != nil {
		sampled = l.Sample(samp)
	}
	return &DefaultLogger{logger: l, sampler: samp, sampled: sampled}
}

func (l *DefaultLogger) log(event *zerolog.Event, msg string, keysAndValues ...interface{}) {
	for i := 0; i < len(keysAndValues); i += 2 {
		key := fmt.Sprintf("%v", keysAndValues[i])
		if i+1 < len(keysAndValues) {
			event.Interface(key, keysAndValues[i+1])
		} else {
			event.Interface(key, nil)
		}
	}
	event.Msg(msg)
}

func (l *DefaultLogger) Debug(msg string, kv ...interface{}) { l.log(l.logger.Debug(), msg, kv...) }
func (l *DefaultLogger) Info(msg string, kv ...interface{})  { l.log(l.logger.Info(), msg, kv...) }

func (l *DefaultLogger) Warn(msg string, kv ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Warn(), msg, kv...)
		return
	}
	l.log(l.logger.Warn(), msg, kv...)
}

func (l *DefaultLogger) Error(msg string, kv ...interface{}) {
	if l.sampler != nil {
		l.log(l.sampled.Error(), msg, kv...)
		return
	}
	l.log(l.logger.Error(), msg, kv...)
}

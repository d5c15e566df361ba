package router

import (
	"github.com/rs/zerolog"
)

// echoLogger forwards echo's own log output (startup messages) to zerolog.
type echoLogger struct {
	level zerolog.Level
	log   zerolog.Logger
}

func (l *echoLogger) Write(p []byte) (int, error) {
	l.log.WithLevel(l.level).Msg(string(p))
	return len(p), nil
}

package util

import (
	"context"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogFromContext returns the request scoped logger stored in ctx, falling back
// to the global logger.
func LogFromContext(ctx context.Context) *zerolog.Logger {
	l := zerolog.Ctx(ctx)
	if l.GetLevel() == zerolog.Disabled {
		if zerolog.DefaultContextLogger != nil {
			return zerolog.DefaultContextLogger
		}
		return &log.Logger
	}

	return l
}

// WithLogger stores l in ctx so LogFromContext picks it up downstream.
func WithLogger(ctx context.Context, l zerolog.Logger) context.Context {
	return l.WithContext(ctx)
}

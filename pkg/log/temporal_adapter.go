package log

import (
	"github.com/rs/zerolog"
	"go.temporal.io/sdk/log"
)

// TemporalAdapter routes Temporal SDK, workflow and activity logs into zerolog
type TemporalAdapter struct {
	logger zerolog.Logger
}

var _ log.WithLogger = (*TemporalAdapter)(nil)

// NewTemporalAdapter creates a new TemporalAdapter
func NewTemporalAdapter(logger zerolog.Logger) *TemporalAdapter {
	return &TemporalAdapter{logger: logger.With().Str("component", "temporal").Logger()}
}

func (t *TemporalAdapter) Debug(msg string, keyvals ...interface{}) {
	t.logger.Debug().Fields(normalize(keyvals)).Msg(msg)
}

func (t *TemporalAdapter) Info(msg string, keyvals ...interface{}) {
	t.logger.Info().Fields(normalize(keyvals)).Msg(msg)
}

func (t *TemporalAdapter) Warn(msg string, keyvals ...interface{}) {
	t.logger.Warn().Fields(normalize(keyvals)).Msg(msg)
}

func (t *TemporalAdapter) Error(msg string, keyvals ...interface{}) {
	t.logger.Error().Fields(normalize(keyvals)).Msg(msg)
}

// With returns a new logger with the given keyvals
func (t *TemporalAdapter) With(keyvals ...interface{}) log.Logger {
	return &TemporalAdapter{logger: t.logger.With().Fields(normalize(keyvals)).Logger()}
}

// normalize pads an odd keyvals list and renders errors as strings
func normalize(keyvals []interface{}) []interface{} {
	if len(keyvals)%2 != 0 {
		keyvals = append(keyvals, "(MISSING)")
	}
	out := make([]interface{}, len(keyvals))
	for i, v := range keyvals {
		if err, ok := v.(error); ok && err != nil {
			out[i] = err.Error()
			continue
		}
		out[i] = v
	}
	return out
}

package task

import (
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/docsift/docsift/internal/observability"
)

// Logger adapts the structured logger to asynq's logging interface so
// broker internals land in the same stream as everything else.
type Logger struct {
	log *observability.Logger
}

var _ asynq.Logger = (*Logger)(nil)

// NewLogger wraps log for use as the asynq server logger.
func NewLogger(log *observability.Logger) *Logger {
	return &Logger{log: log.WithComponent("asynq")}
}

func (l *Logger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l *Logger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l *Logger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l *Logger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l *Logger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }

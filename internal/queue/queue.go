// Package queue carries the asynq plumbing shared by the API (enqueue side)
// and the worker (processing side).
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

// Config controls the asynq server.
type Config struct {
	RedisURL        string
	Concurrency     int
	Queues          map[string]int
	ShutdownTimeout time.Duration
}

func redisOpt(redisURL string) (asynq.RedisConnOpt, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("queue: redis url is required")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("queue: parse redis url: %w", err)
	}
	return opt, nil
}

// NewClient returns an asynq client for enqueueing tasks.
func NewClient(redisURL string) (*asynq.Client, error) {
	opt, err := redisOpt(redisURL)
	if err != nil {
		return nil, err
	}
	return asynq.NewClient(opt), nil
}

// NewInspector returns an asynq inspector for the admin endpoints.
func NewInspector(redisURL string) (*asynq.Inspector, error) {
	opt, err := redisOpt(redisURL)
	if err != nil {
		return nil, err
	}
	return asynq.NewInspector(opt), nil
}

// NewServer builds an asynq server that logs through zerolog.
func NewServer(cfg Config, logger zerolog.Logger) (*asynq.Server, error) {
	opt, err := redisOpt(cfg.RedisURL)
	if err != nil {
		return nil, err
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 4
	}
	shutdown := cfg.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	return asynq.NewServer(opt, asynq.Config{
		Concurrency:     concurrency,
		Queues:          cfg.Queues,
		Logger:          zerologAdapter{logger: logger},
		ShutdownTimeout: shutdown,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Warn().Err(err).Str("kind", task.Type()).Int("retried", retried).Int("max_retry", maxRetry).Msg("task failed")
		}),
	}), nil
}

// Instrument is asynq middleware counting processed tasks per kind and status.
func Instrument(next asynq.Handler) asynq.Handler {
	return asynq.HandlerFunc(func(ctx context.Context, task *asynq.Task) error {
		err := next.ProcessTask(ctx, task)
		status := "success"
		switch {
		case errors.Is(err, asynq.SkipRetry):
			status = "skipped"
		case err != nil:
			status = "error"
		}
		if QueueProcessedTotal != nil {
			QueueProcessedTotal.WithLabelValues(queueLabel(task.Type()), status).Inc()
		}
		return err
	})
}

func queueLabel(kind string) string {
	kind = strings.TrimSpace(kind)
	if kind == "" {
		return "unknown"
	}
	return kind
}

type zerologAdapter struct {
	logger zerolog.Logger
}

func (z zerologAdapter) Debug(args ...interface{}) { z.logger.Debug().Msg(fmt.Sprint(args...)) }
func (z zerologAdapter) Info(args ...interface{})  { z.logger.Info().Msg(fmt.Sprint(args...)) }
func (z zerologAdapter) Warn(args ...interface{})  { z.logger.Warn().Msg(fmt.Sprint(args...)) }
func (z zerologAdapter) Error(args ...interface{}) { z.logger.Error().Msg(fmt.Sprint(args...)) }
func (z zerologAdapter) Fatal(args ...interface{}) { z.logger.Fatal().Msg(fmt.Sprint(args...)) }

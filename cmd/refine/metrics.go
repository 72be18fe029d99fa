package main

import (
	"context"
	"time"

	"fhiretl/internal/config"
	"fhiretl/internal/metrics"
	"fhiretl/internal/metrics/datadog"
	"fhiretl/internal/metrics/prompush"

	"github.com/rs/zerolog"
)

// setupMetrics installs the configured backend and returns the function
// that flushes it at exit. Backend init failures leave metrics disabled.
func setupMetrics(ctx context.Context, cfg *config.Config, logger zerolog.Logger) func() {
	jobName := cfg.JobName
	if jobName == "" {
		jobName = "refine"
	}

	switch cfg.MetricsBackend {
	case "pushgateway":
		b, err := prompush.NewBackend(jobName, cfg.PushgatewayURL)
		if err != nil {
			logger.Warn().Err(err).Msg("metrics: failed to init prom push backend; using nop")
			return func() {}
		}
		logger.Info().Str("url", cfg.PushgatewayURL).Str("job_name", jobName).Msg("metrics: pushgateway enabled")
		metrics.SetBackend(b)
		return func() {
			if err := metrics.Flush(); err != nil {
				logger.Warn().Err(err).Msg("metrics: flush error")
			}
			metrics.SetBackend(nil)
		}

	case "datadog":
		tags := datadog.ParseTagsCSV(cfg.MetricsTags)
		b, err := datadog.NewBackend(context.WithoutCancel(ctx), datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			logger.Warn().Err(err).Msg("metrics: failed to init datadog backend; using nop")
			return func() {}
		}
		logger.Info().Str("job_name", jobName).Strs("tags", tags).Msg("metrics: datadog enabled")
		metrics.SetBackend(b)
		return func() {
			// Close stops the flush loop, then flushes one last time.
			if err := b.Close(); err != nil {
				logger.Warn().Err(err).Msg("metrics: datadog close/flush error")
			}
			metrics.SetBackend(nil)
		}

	case "", "none":
		logger.Debug().Msg("metrics: disabled")
		return func() {}

	default:
		logger.Warn().Str("backend", cfg.MetricsBackend).Msg("metrics: unknown backend; metrics disabled")
		return func() {}
	}
}

// Package logger builds the *slog.Logger used by every mailqueue binary.
//
// New takes functional options (format, level, output, environment preset)
// and returns a logger that appends attrs stored in the context with
// ContextWithAttrs, so a worker can tag every line written while a job runs:
//
//	ctx = logger.ContextWithAttrs(ctx, logger.JobID(job.ID), logger.Attempt(job.Attempts))
//	log.InfoContext(ctx, "email sent", logger.MessageID(id))
//
// NewFromConfig is the env-driven entry point. APP_ENV picks a preset
// (development: text at debug; staging and production: JSON at info), and
// LOG_LEVEL or LOG_FORMAT override it when set.
//
// Helpers in attr.go keep attribute keys consistent: job_id, job_type,
// worker_id, attempt, message_id, transport, request_id, component, error.
// Error and Errors return an empty Attr for nil errors, which slog drops.
package logger

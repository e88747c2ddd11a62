package logger

import (
	"log/slog"
	"strconv"
)

// Group creates a slog group attribute from the provided attributes.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Errors groups multiple non-nil errors under the key "errors".
// If all errors are nil, it returns an empty Attr.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Error creates an attribute for a single error under the key "error".
// If err is nil, it returns an empty Attr.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// RequestID records the request identifier under the key "request_id".
// If id is nil, it returns an empty Attr.
func RequestID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("request_id", id)
}

// JobID records the job identifier under the key "job_id".
func JobID(id any) slog.Attr {
	if id == nil {
		return slog.Attr{}
	}
	return slog.Any("job_id", id)
}

func JobType(t string) slog.Attr {
	return slog.String("job_type", t)
}

func WorkerID(id string) slog.Attr {
	return slog.String("worker_id", id)
}

// Attempt records the 1-based execution attempt.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// MessageID records the provider message id under the key "message_id".
// Empty ids are dropped.
func MessageID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("message_id", id)
}

// Transport records the mail transport name.
func Transport(name string) slog.Attr {
	return slog.String("transport", name)
}

// Duration records a duration under the key "duration".
func Duration(d any) slog.Attr {
	return slog.Any("duration", d)
}

// Component records the component name under the key "component".
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

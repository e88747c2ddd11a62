// Package api exposes the mail queue over HTTP.
//
// NewRouter wires a chi router with request ids, request logging and panic
// recovery. Enqueue endpoints answer 202 with the job id; validation failures
// answer 422 with per-field messages:
//
//	{"error":{"code":"validation_error","message":"validation failed","details":{"to":["field is required"]}}}
//
// A store outage surfaces as 503 store_unavailable so callers can retry.
package api

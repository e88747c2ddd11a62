package email

import "errors"

var (
	ErrInvalidConfig  = errors.New("email: invalid config")
	ErrInvalidMessage = errors.New("email: invalid message")

	// ErrTransport wraps every failed delivery attempt.
	ErrTransport = errors.New("email: transport failed")

	// ErrTransportUnavailable is returned when no working transport is configured.
	ErrTransportUnavailable = errors.New("email: transport unavailable")

	// ErrRejected marks failures the provider will not accept on retry,
	// e.g. an SMTP 5xx reply or an inactive Postmark recipient.
	ErrRejected = errors.New("email: message rejected")
)

// IsRejected reports whether retrying the same message is pointless.
func IsRejected(err error) bool {
	return errors.Is(err, ErrRejected)
}

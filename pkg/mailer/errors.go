package mailer

import (
	"github.com/learnhub/mailqueue/pkg/queue"
	"github.com/learnhub/mailqueue/pkg/validator"
)

// Aliases of the queue sentinels so callers of this package can match
// errors without importing queue.
var (
	ErrValidation       = queue.ErrValidation
	ErrStoreUnavailable = queue.ErrStoreUnavailable
	ErrUnknownJobType   = queue.ErrUnknownJobType
)

// validationError matches both ErrValidation and validator.ValidationErrors,
// so callers can errors.Is the sentinel and still extract field errors.
type validationError struct {
	fields validator.ValidationErrors
}

func (e *validationError) Error() string {
	return e.fields.Error()
}

func (e *validationError) Unwrap() []error {
	return []error{ErrValidation, e.fields}
}

func validate(rules ...validator.Rule) error {
	err := validator.Apply(rules...)
	if err == nil {
		return nil
	}
	return &validationError{fields: validator.ExtractValidationErrors(err)}
}

// Package validator builds declarative validation from small Rule values.
//
// Each rule pairs a Check func with the ValidationError reported when it
// fails. Apply evaluates all rules and returns the failures as
// ValidationErrors, which implements error and matches ErrValidationFailed:
//
//	err := validator.Apply(
//	    validator.RequiredSlice("to", msg.To),
//	    validator.ValidEmails("to", msg.To),
//	    validator.RequiredString("subject", msg.Subject),
//	)
//	if verrs := validator.ExtractValidationErrors(err); verrs != nil {
//	    // report verrs per field
//	}
//
// Rules are stateless and safe for concurrent use.
package validator

package api

import "errors"

var (
	// ErrInvalidJSON is returned when the request body is not the expected JSON document
	ErrInvalidJSON = errors.New("invalid JSON body")

	// ErrUnsupportedMediaType is returned when the body is not application/json
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrInvalidParam is returned for malformed path or query parameters
	ErrInvalidParam = errors.New("invalid parameter")
)

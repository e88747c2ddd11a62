package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// maxBodySize bounds request bodies. Attachments are base64 in JSON, so this
// sits above the attachment limit enforced by the producer.
const maxBodySize = 16 << 20

// decodeJSON strictly decodes an application/json body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return fmt.Errorf("%w: expected application/json", ErrUnsupportedMediaType)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("%w: got %s, expected application/json", ErrUnsupportedMediaType, contentType)
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", ErrInvalidJSON)
		}
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	if dec.More() {
		return fmt.Errorf("%w: unexpected data after JSON document", ErrInvalidJSON)
	}
	return nil
}

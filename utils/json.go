package utils

import (
	"bytes"
	"encoding/json"
)

// DecodeStrictJSON decodes data into output rejecting unknown fields.
// Empty input decodes as an empty object.
func DecodeStrictJSON[T any](data []byte, output *T) error {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(output); err != nil {
		return NewValidationError("malformed arguments: "+err.Error(), nil)
	}
	return nil
}

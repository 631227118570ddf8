package store

import (
	"encoding/json"
	"fmt"
)

// marshalJSON converts v to JSON text for storage.
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// unmarshalRow decodes a stored JSON body, naming the row in the error.
func unmarshalRow(kind, name, body string, v any) error {
	if err := json.Unmarshal([]byte(body), v); err != nil {
		return fmt.Errorf("decode %s %q: %w", kind, name, err)
	}
	return nil
}

package internal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// UnmarshalFile decodes a JSON file into o. Unknown fields are treated as
// errors so that misspelled configuration isn't silently ignored.
func UnmarshalFile(path string, o any) error {
	contents, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	dec := json.NewDecoder(bytes.NewReader(contents))

	dec.DisallowUnknownFields()

	err = dec.Decode(o)
	if err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}

	return nil
}

package eventfold

import (
	"encoding/json"
)

// Marshal creates a single point of change if the encoding changes.
func Marshal[T any](t *T) ([]byte, error) {
	return json.Marshal(t)
}

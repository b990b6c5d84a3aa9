package extract

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/GoCodeAlone/forgedocs/record"
)

// ErrMalformedOutput is returned when tool output is not a JSON array of
// objects.
var ErrMalformedOutput = errors.New("malformed tool output")

// strippedKeys hold source positions and raw source text.
var strippedKeys = []string{"source", "calling_source", "line", "char"}

// Sanitize parses raw extraction output and removes the source-position and
// source-text keys from every item. Order and count are preserved. Empty
// output means the tool found nothing.
func Sanitize(raw []byte) ([]record.Item, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return []record.Item{}, nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()

	var items []record.Item
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after array", ErrMalformedOutput)
	}
	if items == nil {
		return nil, fmt.Errorf("%w: expected array, got null", ErrMalformedOutput)
	}

	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("%w: item %d is not an object", ErrMalformedOutput, i)
		}
		for _, k := range strippedKeys {
			delete(item, k)
		}
	}
	return items, nil
}

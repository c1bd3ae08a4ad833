package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoArray is returned when the agent output contains no bracketed array.
var ErrNoArray = errors.New("worker: no JSON array in agent output")

// ExtractJSONArray finds the first JSON array of objects embedded in free
// text and decodes it. Each '[' is tried in turn and decoded as a stream, so
// trailing prose is tolerated; a bracketed array with no objects (for example
// "[3]") is skipped in favour of a later one. When nothing decodes, the span
// from the first '[' to the last ']' is tried as a last resort. Non-object
// elements are dropped.
func ExtractJSONArray(text string) ([]map[string]any, error) {
	first := strings.IndexByte(text, '[')
	if first < 0 {
		return nil, ErrNoArray
	}

	var (
		decodedEmpty bool
		firstErr     error
	)
	for i := first; i >= 0 && i < len(text); {
		var raw []json.RawMessage
		err := json.NewDecoder(strings.NewReader(text[i:])).Decode(&raw)
		if err == nil {
			if objs := objects(raw); len(objs) > 0 {
				return objs, nil
			}
			decodedEmpty = true
		} else if firstErr == nil {
			firstErr = err
		}
		next := strings.IndexByte(text[i+1:], '[')
		if next < 0 {
			break
		}
		i += next + 1
	}

	if last := strings.LastIndexByte(text, ']'); last > first {
		var raw []json.RawMessage
		if err := json.Unmarshal([]byte(text[first:last+1]), &raw); err == nil {
			return objects(raw), nil
		}
	}
	if decodedEmpty {
		return []map[string]any{}, nil
	}
	if firstErr == nil {
		return nil, ErrNoArray
	}
	return nil, fmt.Errorf("worker: parse agent output: %w", firstErr)
}

func objects(raw []json.RawMessage) []map[string]any {
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		var obj map[string]any
		if err := json.Unmarshal(r, &obj); err != nil || obj == nil {
			continue
		}
		out = append(out, obj)
	}
	return out
}

package usecase

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeFirstJSONObject unmarshals the first balanced JSON object found in
// raw model output into v. Surrounding prose, code fences, and other noise
// are ignored. Returns an error when no decodable object exists; callers
// substitute their own safe default instead of propagating it.
func DecodeFirstJSONObject(raw string, v any) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("empty model output")
	}

	for start := 0; start < len(raw); {
		offset := strings.IndexByte(raw[start:], '{')
		if offset < 0 {
			break
		}
		open := start + offset
		end, ok := balancedObjectEnd(raw, open)
		if ok {
			if err := json.Unmarshal([]byte(raw[open:end+1]), v); err == nil {
				return nil
			}
		}
		start = open + 1
	}
	return fmt.Errorf("no decodable JSON object in model output")
}

// balancedObjectEnd returns the index of the brace closing the object that
// opens at start, tracking string literals and escapes.
func balancedObjectEnd(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

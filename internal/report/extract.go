package report

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DefaultMarker is where the success envelope of the report program starts.
const DefaultMarker = `{"ok":`

// maxTrimAttempts bounds how many closing braces ExtractJSON backs off over.
const maxTrimAttempts = 50

// ExtractJSON recovers a JSON document from output that may carry banners
// before it or noise after it. It tries the whole text first, then starts at
// the first '{' or '[' (or the last occurrence of marker when that is later)
// and trims the tail back to earlier '}' boundaries.
func ExtractJSON(text, marker string) (json.RawMessage, bool) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return nil, false
	}
	if json.Valid([]byte(raw)) {
		return json.RawMessage(raw), true
	}

	start := -1
	if i := strings.IndexAny(raw, "{["); i >= 0 {
		start = i
	}
	if marker != "" {
		if i := strings.LastIndex(raw, marker); i > start {
			start = i
		}
	}
	if start < 0 {
		return nil, false
	}

	sliced := []byte(raw[start:])
	end := len(sliced)
	for range maxTrimAttempts {
		candidate := bytes.TrimSpace(sliced[:end])
		if json.Valid(candidate) {
			return json.RawMessage(candidate), true
		}
		end = bytes.LastIndexByte(sliced[:end-1], '}')
		if end < 0 {
			break
		}
		end++
	}
	return nil, false
}

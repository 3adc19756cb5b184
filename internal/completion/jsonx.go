package completion

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/zulandar/switchyard/internal/apperr"
)

// DecodeJSON extracts a JSON object from model output and unmarshals it
// into v. Models often wrap JSON in code fences or prose, and sometimes
// emit trailing commas or single quotes, so the first {...} span is cut
// out and, if strict decoding fails, repaired before a second attempt.
func DecodeJSON(raw string, v any) error {
	const op = "completion: decode json"
	span := extractObject(raw)
	if span == "" {
		return apperr.E(apperr.MalformedUpstreamResponse, op, errors.New("no JSON object in response"))
	}
	if err := json.Unmarshal([]byte(span), v); err == nil {
		return nil
	}
	repaired, err := jsonrepair.JSONRepair(span)
	if err != nil {
		return apperr.E(apperr.MalformedUpstreamResponse, op, err)
	}
	if err := json.Unmarshal([]byte(repaired), v); err != nil {
		return apperr.E(apperr.MalformedUpstreamResponse, op, err)
	}
	return nil
}

// extractObject returns the text from the first '{' to the matching
// closing brace, or to the end of input when the object is unterminated.
func extractObject(raw string) string {
	s := strings.TrimSpace(raw)
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
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
				return s[start : i+1]
			}
		}
	}
	return strings.TrimRight(s[start:], "` \n\t")
}

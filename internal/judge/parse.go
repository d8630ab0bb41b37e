package judge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// extractJSON locates the score object in a judge reply. Returns the
// JSON text, the analysis text preceding it, and whether anything was
// found. Tries, in order: the whole reply, a markdown code fence, and
// the first balanced brace block.
func extractJSON(text string) (jsonText, prefix string, ok bool) {
	trimmed := strings.TrimSpace(text)
	if json.Valid([]byte(trimmed)) && strings.HasPrefix(trimmed, "{") {
		return trimmed, "", true
	}

	if start := strings.Index(trimmed, "```"); start >= 0 {
		body := trimmed[start+3:]
		body = strings.TrimPrefix(body, "json")
		if end := strings.Index(body, "```"); end >= 0 {
			candidate := strings.TrimSpace(body[:end])
			if json.Valid([]byte(candidate)) && strings.HasPrefix(candidate, "{") {
				return candidate, strings.TrimSpace(trimmed[:start]), true
			}
		}
	}

	braceStart := strings.Index(trimmed, "{")
	if braceStart < 0 {
		return "", "", false
	}
	depth := 0
	inString := false
	escaped := false
	for i := braceStart; i < len(trimmed); i++ {
		c := trimmed[i]
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
				candidate := trimmed[braceStart : i+1]
				if json.Valid([]byte(candidate)) {
					return candidate, strings.TrimSpace(trimmed[:braceStart]), true
				}
				return "", "", false
			}
		}
	}
	return "", "", false
}

// Parse turns a raw judge reply into a validated Score. The reply must
// contain a JSON score object with the required fields in range, and a
// rationale: either analysis text before the JSON or a non-empty
// "reasoning" field inside it.
func Parse(raw string, required []string) (Score, error) {
	jsonText, prefix, ok := extractJSON(raw)
	if !ok {
		return Score{}, fmt.Errorf("%w: no JSON object found", ErrMalformedJudgeOutput)
	}

	var s Score
	if err := json.Unmarshal([]byte(jsonText), &s); err != nil {
		return Score{}, fmt.Errorf("%w: %v", ErrMalformedJudgeOutput, err)
	}
	if err := s.validate(required); err != nil {
		return Score{}, err
	}

	s.Rationale = strings.TrimSpace(s.Rationale)
	if s.Rationale == "" {
		if prefix == "" {
			return Score{}, fmt.Errorf("%w: scores without rationale", ErrMalformedJudgeOutput)
		}
		s.Rationale = prefix
	}
	return s, nil
}

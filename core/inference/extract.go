package inference

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/you-humble/snapchef/core/domain"
)

var (
	fenceRe   = regexp.MustCompile("(?mi)^\\s*```[a-z]*\\s*$")
	controlRe = regexp.MustCompile(`[\x00-\x1f\x7f]`)
)

// ExtractJSONObject returns the first balanced {...} group in raw model
// output that parses as JSON. Markdown fences and surrounding prose are
// dropped, brace groups that are not JSON ("{name}" placeholders) are
// skipped, and control characters are replaced with spaces, since models put
// raw newlines inside string values.
func ExtractJSONObject(raw string) (string, error) {
	text := fenceRe.ReplaceAllString(raw, "")

	start := strings.IndexByte(text, '{')
	for start != -1 {
		if end := balancedEnd(text, start); end != -1 {
			candidate := controlRe.ReplaceAllString(text[start:end+1], " ")
			if json.Valid([]byte(candidate)) {
				return candidate, nil
			}
		}
		next := strings.IndexByte(text[start+1:], '{')
		if next == -1 {
			break
		}
		start += next + 1
	}

	return "", fmt.Errorf("%w: no JSON object in output %q", domain.ErrMalformedResponse, truncate(raw, 200))
}

// balancedEnd returns the index of the brace closing the one at start, or -1.
func balancedEnd(s string, start int) int {
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
				return i
			}
		}
	}
	return -1
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

package parsing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/ahrav/go-grader/internal/domain"
)

var errNoJSONObject = errors.New("no JSON object found")

var (
	fencedBlock   = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*\\n?(.*?)```")
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKey   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// lenientJSON extracts a JSON object from fenced or surrounding text and
// applies progressively more invasive repairs until it decodes.
type lenientJSON struct{}

func (lenientJSON) Name() string { return string(KindLenientJSON) }

func (lenientJSON) Parse(_ context.Context, raw string) (*domain.GradingResult, error) {
	candidate := extractJSON(raw)
	if candidate == "" {
		return nil, errNoJSONObject
	}

	var lastErr error
	for _, repair := range repairs {
		candidate = repair(candidate)
		m, err := decodeObject(candidate)
		if err != nil {
			lastErr = err
			continue
		}
		return fromMap(m)
	}
	return nil, fmt.Errorf("decode after repair: %w", lastErr)
}

// repairs are applied cumulatively, least invasive first.
var repairs = []func(string) string{
	func(s string) string { return strings.TrimSpace(strings.TrimPrefix(s, "\ufeff")) },
	func(s string) string { return closeUnbalanced(trailingComma.ReplaceAllString(s, "$1")) },
	quoteKeys,
	func(s string) string {
		if !strings.Contains(s, `"`) && strings.Contains(s, `'`) {
			return strings.ReplaceAll(s, `'`, `"`)
		}
		return singleToDouble(s)
	},
}

func decodeObject(s string) (map[string]any, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errNoJSONObject
	}
	return m, nil
}

// extractJSON prefers a fenced block and otherwise takes the span from the
// first '{' to the last '}', or to the end when the object was truncated.
func extractJSON(content string) string {
	if m := fencedBlock.FindStringSubmatch(content); len(m) > 1 && strings.Contains(m[1], "{") {
		content = m[1]
	}
	start := strings.Index(content, "{")
	if start == -1 {
		return ""
	}
	end := strings.LastIndex(content, "}")
	if end < start {
		return strings.TrimSpace(content[start:])
	}
	return content[start : end+1]
}

// closeUnbalanced appends the closers for any open objects, arrays and
// strings, in nesting order.
func closeUnbalanced(s string) string {
	var stack []byte
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
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
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) > 0 && stack[len(stack)-1] == c {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if !inString && len(stack) == 0 {
		return s
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(s, " \t\r\n,"))
	if inString {
		b.WriteByte('"')
	}
	for i := len(stack) - 1; i >= 0; i-- {
		b.WriteByte(stack[i])
	}
	return b.String()
}

// quoteKeys quotes bare object keys, leaving double-quoted strings untouched
// so "a, note: b" inside a value is not mistaken for a key.
func quoteKeys(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] != '"' {
			continue
		}
		b.WriteString(unquotedKey.ReplaceAllString(s[start:i], `$1"$2":`))
		end := closingQuote(s, i)
		b.WriteString(s[i:end])
		start = end
		i = end - 1
	}
	b.WriteString(unquotedKey.ReplaceAllString(s[start:], `$1"$2":`))
	return b.String()
}

// closingQuote returns the index just past the string opened at s[open], or
// len(s) when it is never closed.
func closingQuote(s string, open int) int {
	escaped := false
	for i := open + 1; i < len(s); i++ {
		switch {
		case escaped:
			escaped = false
		case s[i] == '\\':
			escaped = true
		case s[i] == '"':
			return i + 1
		}
	}
	return len(s)
}

// singleToDouble converts single-quoted keys and values when the text mixes
// quote styles, leaving apostrophes inside double-quoted strings alone.
func singleToDouble(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inDouble, inSingle := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' && i+1 < len(s):
			b.WriteByte(c)
			i++
			b.WriteByte(s[i])
			continue
		case c == '"' && !inSingle:
			inDouble = !inDouble
		case c == '"' && inSingle:
			b.WriteString(`\"`)
			continue
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			b.WriteByte('"')
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

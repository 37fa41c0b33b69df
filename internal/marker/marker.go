// Package marker wraps prompt fragments in tag pairs so they can be
// recovered from an assembled prompt.
//
// The wire format is <<TAG>>content<</TAG>> where TAG matches [A-Z0-9_]+.
package marker

import (
	"regexp"
	"strings"
	"time"

	"github.com/dlclark/regexp2"
)

// parse patterns need a back-reference so the closing tag echoes the opening one.
var pairRegex = regexp2.MustCompile(`<<([A-Z0-9_]+)>>([\s\S]*?)<</\1>>`, regexp2.None)

var delimRegex = regexp.MustCompile(`<</?[A-Z0-9_]+>>`)

func init() {
	pairRegex.MatchTimeout = 2 * time.Second
}

// Marker is one extracted tag span.
type Marker struct {
	Tag     string `json:"tag"`
	Content string `json:"content"`
	// Raw is the full matched text including delimiters.
	Raw string `json:"-"`
}

// Sanitize maps an identifier onto the tag alphabet. Different inputs may
// collapse to the same tag.
func Sanitize(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToUpper(raw) {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "UNKNOWN"
	}
	return b.String()
}

// Open returns the opening delimiter for tag.
func Open(tag string) string { return "<<" + Sanitize(tag) + ">>" }

// Close returns the closing delimiter for tag.
func Close(tag string) string { return "<</" + Sanitize(tag) + ">>" }

// Wrap encloses content in a tag pair. Blank content is returned unchanged.
func Wrap(tag, content string) string {
	if strings.TrimSpace(content) == "" {
		return content
	}
	t := Sanitize(tag)
	return "<<" + t + ">>" + content + "<</" + t + ">>"
}

// Parse returns balanced tag spans, leftmost first and non-overlapping.
// Nested spans of different tags stay inside Content for the caller to parse.
func Parse(text string) []Marker {
	if !Contains(text) {
		return nil
	}
	var out []Marker
	m, err := pairRegex.FindStringMatch(text)
	for err == nil && m != nil {
		groups := m.Groups()
		out = append(out, Marker{
			Tag:     groups[1].String(),
			Content: groups[2].String(),
			Raw:     m.String(),
		})
		m, err = pairRegex.FindNextMatch(m)
	}
	return out
}

// Strip removes every tag delimiter and leaves all other text in place.
func Strip(text string) string {
	for delimRegex.MatchString(text) {
		text = delimRegex.ReplaceAllString(text, "")
	}
	return text
}

// Contains reports whether text holds any tag delimiter.
func Contains(text string) bool {
	return strings.Contains(text, "<<") && delimRegex.MatchString(text)
}

// Tags returns the distinct tags of all delimiters in text, in order of
// first appearance.
func Tags(text string) []string {
	var out []string
	seen := map[string]bool{}
	for _, d := range delimRegex.FindAllString(text, -1) {
		t := strings.TrimSuffix(strings.TrimPrefix(strings.TrimPrefix(d, "<<"), "/"), ">>")
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

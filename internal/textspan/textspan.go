// Package textspan splits transcript text into plain, link and phone-number
// spans so presenters can highlight them. Concatenating the Text of every
// returned span reproduces the input exactly.
package textspan

import (
	"cmp"
	"regexp"
	"slices"
	"strings"
)

// Kind classifies a span.
type Kind string

const (
	KindText  Kind = "text"
	KindLink  Kind = "link"
	KindPhone Kind = "phone"
)

// Span is a contiguous run of text of one kind.
type Span struct {
	Kind Kind
	Text string
}

var (
	linkRE  = regexp.MustCompile(`(?i)\b(?:https?://|www\.)[^\s<>"']+`)
	phoneRE = regexp.MustCompile(`\+?\(?\d[\d\s().\-]{5,}\d`)
)

// minPhoneDigits filters out years, times and short counts.
const minPhoneDigits = 7

// Sentence punctuation stripped from the end of a link.
const linkTrim = ".,;:!?)]}"

type match struct {
	start, end int
	kind       Kind
}

// Annotate returns the spans of text in order. Links win over phone numbers
// that overlap them.
func Annotate(text string) []Span {
	if text == "" {
		return nil
	}

	var ms []match
	for _, loc := range linkRE.FindAllStringIndex(text, -1) {
		end := loc[0] + len(strings.TrimRight(text[loc[0]:loc[1]], linkTrim))
		ms = append(ms, match{loc[0], end, KindLink})
	}
	links := len(ms)
	for _, loc := range phoneRE.FindAllStringIndex(text, -1) {
		if digits(text[loc[0]:loc[1]]) < minPhoneDigits || overlaps(ms[:links], loc[0], loc[1]) {
			continue
		}
		ms = append(ms, match{loc[0], loc[1], KindPhone})
	}
	slices.SortFunc(ms, func(a, b match) int { return cmp.Compare(a.start, b.start) })

	var out []Span
	pos := 0
	for _, m := range ms {
		if m.start > pos {
			out = append(out, Span{Kind: KindText, Text: text[pos:m.start]})
		}
		out = append(out, Span{Kind: m.kind, Text: text[m.start:m.end]})
		pos = m.end
	}
	if pos < len(text) {
		out = append(out, Span{Kind: KindText, Text: text[pos:]})
	}
	return out
}

// Has reports whether any span of kind k is present.
func Has(spans []Span, k Kind) bool {
	return slices.ContainsFunc(spans, func(s Span) bool { return s.Kind == k })
}

func digits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func overlaps(ms []match, start, end int) bool {
	for _, m := range ms {
		if start < m.end && m.start < end {
			return true
		}
	}
	return false
}

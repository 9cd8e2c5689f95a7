package report

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const ellipsis = "…"

var textEscaper = strings.NewReplacer(
	`\`, `\\`,
	"`", "\\`",
	"|", `\|`,
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"<", `&lt;`,
	">", `&gt;`,
	"#", `\#`,
)

// EscapeText makes s safe to embed as plain Markdown text, including inside
// headings and table cells. Line breaks and control characters become spaces.
func EscapeText(s string) string {
	return textEscaper.Replace(flatten(s))
}

// Code wraps s in a code span whose fence is longer than any backtick run
// inside it, so the value cannot close the span early.
func Code(s string) string {
	s = flatten(s)
	longest, run := 0, 0
	for _, r := range s {
		if r == '`' {
			run++
			if run > longest {
				longest = run
			}
			continue
		}
		run = 0
	}
	fence := strings.Repeat("`", longest+1)
	if strings.HasPrefix(s, "`") || strings.HasSuffix(s, "`") || s == "" {
		s = " " + s + " "
	}
	return fence + s + fence
}

// Truncate shortens s to at most limit runes, marking the cut with an
// ellipsis. limit <= 0 disables truncation.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	if limit == 1 {
		return ellipsis
	}
	return string(runes[:limit-1]) + ellipsis
}

// flatten collapses newlines and other control characters to single spaces.
func flatten(s string) string {
	if strings.IndexFunc(s, unicode.IsControl) < 0 {
		return s
	}
	var b strings.Builder
	space := false
	for _, r := range s {
		if unicode.IsControl(r) {
			if !space {
				b.WriteByte(' ')
			}
			space = true
			continue
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// Package markdown tidies raw agent plan text into consistent markdown.
package markdown

import (
	"regexp"
	"strings"
)

var (
	trailingSpace  = regexp.MustCompile(`(?m)[ \t]+$`)
	excessNewlines = regexp.MustCompile(`\n{3,}`)
	bareHeading    = regexp.MustCompile(`(?m)^([A-Z][^.\n]*):?\s*$`)
	bulletMarker   = regexp.MustCompile(`(?m)^[-*]\s+`)
	keyTerm        = regexp.MustCompile(`(\*\*)?\b(?i:(goal|objective|important|note|warning))\b(\*\*)?`)
	headingLine    = regexp.MustCompile(`(?m)^(#{1,6}\s+.+)$`)
)

// Format applies the plan formatting rules in order:
//
//  1. collapse runs of blank lines to a single blank line; lines holding
//     only spaces or tabs count as blank
//  2. promote capitalized lines without a period to "## " headings
//  3. normalize "-" and "*" bullets to "- " (numbered lists are kept)
//  4. bold Goal, Objective, Important, Note and Warning unless already bold
//  5. surround headings with blank lines
//  6. collapse 3+ newlines to 2 and trim
//
// Format is idempotent: formatting its own output returns it unchanged.
func Format(text string) string {
	if text == "" {
		return ""
	}

	out := strings.ReplaceAll(text, "\r\n", "\n")
	out = trailingSpace.ReplaceAllString(out, "")
	out = excessNewlines.ReplaceAllString(out, "\n\n")
	out = bareHeading.ReplaceAllString(out, "## $1")
	out = bulletMarker.ReplaceAllString(out, "- ")
	out = keyTerm.ReplaceAllStringFunc(out, boldKeyTerm)
	out = headingLine.ReplaceAllString(out, "\n$1\n")
	out = excessNewlines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

func boldKeyTerm(match string) string {
	if strings.HasPrefix(match, "**") || strings.HasSuffix(match, "**") {
		return match
	}
	return "**" + match + "**"
}

// Copyright (c) 2025, the earshot contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package feed

import (
	"html"
	"regexp"
	"strings"
)

var (
	// Block-level openers/closers become line breaks; list items become
	// bullet-prefixed lines. Everything else is stripped outright.
	lineBreakPattern  = regexp.MustCompile(`(?i)<br\s*/?>|</p>|</div>|</h[1-6]>|</li>|</ul>|</ol>|</blockquote>|</tr>`)
	bulletPattern     = regexp.MustCompile(`(?i)<li[^>]*>`)
	anyTagPattern     = regexp.MustCompile(`<[^>]*>`)
	multiBlankPattern = regexp.MustCompile(`\n{3,}`)
	trailingWS        = regexp.MustCompile(`[ \t]+\n`)
)

// FlattenHTML converts an HTML-bearing description into plain text,
// preserving paragraph and list structure as line breaks and bullets. No
// markup is ever retained.
func FlattenHTML(s string) string {
	if s == "" {
		return ""
	}

	s = lineBreakPattern.ReplaceAllString(s, "\n")
	s = bulletPattern.ReplaceAllString(s, "• ")
	s = anyTagPattern.ReplaceAllString(s, "")
	s = html.UnescapeString(s)

	s = trailingWS.ReplaceAllString(s, "\n")
	s = multiBlankPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

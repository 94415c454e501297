// Package sanitize turns generated markdown-ish text into plain text and
// re-renders it into the small HTML subset accepted by the messaging platform.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	linkRe       = regexp.MustCompile(`\[([^\[\]\n]*)\]\(([^()\s]+)\)`)
	urlRe        = regexp.MustCompile(`(?:https?://|www\.)[^\s<>()\[\]]+`)
	bulletRe     = regexp.MustCompile(`^(?:[*•+–·-])\s+`)
	headingRe    = regexp.MustCompile(`^(?:#{1,6}\s+)+`)
	underscoreRe = regexp.MustCompile(`(^|[^\p{L}\p{N}_])_([^_\n]+)_($|[^\p{L}\p{N}_])`)
	emptyWrapRe  = regexp.MustCompile(`\(\s*\)|<\s*>|\[\s*\]`)
	spacesRe     = regexp.MustCompile(`[ \t]+`)
	blankRunRe   = regexp.MustCompile(`\n{3,}`)

	emphasisReplacer = strings.NewReplacer("```", "", "**", "", "__", "", "~~", "", "`", "", "*", "")
)

// linkSeparator joins a link label and its target after rewriting.
const linkSeparator = " — "

// StripMarkup removes lightweight emphasis markers, rewrites [label](url)
// links to "label — url", deletes bare URLs and normalizes bullets to "- ".
// It is total and idempotent.
func StripMarkup(text string) string {
	if text == "" {
		return text
	}
	out := strings.ReplaceAll(text, "\r\n", "\n")
	// Passes run until the text is stable. Apart from bullet normalization,
	// which happens once per exposed bullet, a pass that changes the text
	// consumes runes, so twice the rune count bounds the loop.
	limit := 2*utf8.RuneCountInString(out) + 2
	for i := 0; i < limit; i++ {
		next := stripPass(out)
		if next == out {
			break
		}
		out = next
	}
	return out
}

func stripPass(text string) string {
	lines := strings.Split(text, "\n")
	kept := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimLeft(line, " \t")
		line = headingRe.ReplaceAllString(line, "")

		bullet := false
		if loc := bulletRe.FindStringIndex(line); loc != nil {
			bullet = true
			line = line[loc[1]:]
		}

		line = outsideURLs(line, func(seg string) string {
			seg = emphasisReplacer.Replace(seg)
			return underscoreRe.ReplaceAllString(seg, "$1$2$3")
		})
		line = rewriteLinks(line)
		line = dropBareURLs(line)
		line = dropEmptyWrappers(line)
		line = strings.TrimSpace(spacesRe.ReplaceAllString(line, " "))

		if bullet {
			if line == "" {
				continue
			}
			line = "- " + line
		}
		kept = append(kept, line)
	}
	out := strings.Join(kept, "\n")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}

// dropEmptyWrappers removes "()", "[]" and "<>" pairs that hold only
// whitespace, innermost first, until none are left.
func dropEmptyWrappers(line string) string {
	for {
		next := emptyWrapRe.ReplaceAllString(line, "")
		if next == line {
			return line
		}
		line = next
	}
}

func rewriteLinks(line string) string {
	return linkRe.ReplaceAllStringFunc(line, func(m string) string {
		parts := linkRe.FindStringSubmatch(m)
		label := strings.TrimSpace(parts[1])
		if label == "" {
			return ""
		}
		return label + linkSeparator + parts[2]
	})
}

// dropBareURLs deletes URLs that are not the target half of a rewritten link.
func dropBareURLs(line string) string {
	locs := urlRe.FindAllStringIndex(line, -1)
	if len(locs) == 0 {
		return line
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		if strings.HasSuffix(line[:loc[0]], strings.TrimLeft(linkSeparator, " ")) {
			continue
		}
		b.WriteString(line[last:loc[0]])
		last = loc[1]
	}
	b.WriteString(line[last:])
	return b.String()
}

// outsideURLs applies fn to the parts of line that are not URLs.
func outsideURLs(line string, fn func(string) string) string {
	locs := urlRe.FindAllStringIndex(line, -1)
	if len(locs) == 0 {
		return fn(line)
	}
	var b strings.Builder
	last := 0
	for _, loc := range locs {
		b.WriteString(fn(line[last:loc[0]]))
		b.WriteString(line[loc[0]:loc[1]])
		last = loc[1]
	}
	b.WriteString(fn(line[last:]))
	return b.String()
}

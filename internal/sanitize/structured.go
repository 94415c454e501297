package sanitize

import (
	"regexp"
	"strings"

	"relocation-assistant/internal/domain"
)

var (
	itemStartRe = regexp.MustCompile(`^\d+[).]\s+`)

	htmlEscaper   = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	htmlUnescaper = strings.NewReplacer("&lt;", "<", "&gt;", ">", "&amp;", "&")
	tagStripper   = strings.NewReplacer("<b>", "", "</b>", "")
)

// titleDelimiters end the bold title of a numbered item; the earliest one wins.
var titleDelimiters = []string{" — ", " - ", ":"}

// EscapeHTML escapes the characters the platform's HTML mode treats as markup.
func EscapeHTML(s string) string { return htmlEscaper.Replace(s) }

// UnescapeHTML reverses EscapeHTML.
func UnescapeHTML(s string) string { return htmlUnescaper.Replace(s) }

// PlainText strips the tags ReformatAsStructured emits and unescapes the rest.
func PlainText(s string) string { return UnescapeHTML(tagStripper.Replace(s)) }

// StructuredFormatter renders sanitized digests as numbered HTML items under a
// localized header.
type StructuredFormatter struct {
	headers  map[domain.Language]string
	fallback domain.Language
}

// NewStructuredFormatter builds a formatter. fallback picks the header when a
// language has none configured.
func NewStructuredFormatter(headers map[domain.Language]string, fallback domain.Language) *StructuredFormatter {
	copied := make(map[domain.Language]string, len(headers))
	for k, v := range headers {
		copied[k] = v
	}
	return &StructuredFormatter{headers: copied, fallback: fallback}
}

type item struct {
	markerLen int
	lines     []string
}

// ReformatAsStructured splits text into numbered items, escapes it, bolds each
// item's title and prepends the header for lang. Every non-blank input line
// lands in exactly one output item.
func (f *StructuredFormatter) ReformatAsStructured(text string, lang domain.Language) string {
	header := "<b>" + EscapeHTML(f.header(lang)) + "</b>"

	items, numbered := splitItems(text)
	if !numbered {
		body := strings.TrimSpace(text)
		if body == "" {
			return header
		}
		return header + "\n\n" + EscapeHTML(body)
	}

	blocks := make([]string, 0, len(items))
	for _, it := range items {
		blocks = append(blocks, renderItem(it))
	}
	return header + "\n\n" + strings.Join(blocks, "\n\n")
}

func (f *StructuredFormatter) header(lang domain.Language) string {
	if h, ok := f.headers[lang]; ok {
		return h
	}
	return f.headers[f.fallback]
}

// splitItems groups lines into items. Lines before the first numbered line form
// an unnumbered leading item.
func splitItems(text string) ([]item, bool) {
	var (
		items    []item
		numbered bool
	)
	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}
		if m := itemStartRe.FindStringSubmatch(line); m != nil {
			numbered = true
			items = append(items, item{markerLen: len(m[0]), lines: []string{line}})
			continue
		}
		if len(items) == 0 {
			items = append(items, item{})
		}
		last := &items[len(items)-1]
		last.lines = append(last.lines, line)
	}
	return items, numbered
}

func renderItem(it item) string {
	rendered := make([]string, 0, len(it.lines))
	for i, line := range it.lines {
		if i == 0 && it.markerLen > 0 {
			rendered = append(rendered, renderTitleLine(line, it.markerLen))
			continue
		}
		rendered = append(rendered, EscapeHTML(line))
	}
	return strings.Join(rendered, "\n")
}

// renderTitleLine bolds line up to the first title delimiter found after the
// item number. Lines without a delimiter are bolded whole.
func renderTitleLine(line string, markerLen int) string {
	body := line[markerLen:]
	cut := -1
	for _, d := range titleDelimiters {
		if i := strings.Index(body, d); i > 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut < 0 {
		return "<b>" + EscapeHTML(line) + "</b>"
	}
	cut += markerLen
	return "<b>" + EscapeHTML(line[:cut]) + "</b>" + EscapeHTML(line[cut:])
}

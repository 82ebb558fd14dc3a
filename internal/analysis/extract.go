package analysis

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Extractor finds the raw text of one named section in an engine response.
// known lists every configured section name; a labelled line naming one of them
// ends the current block. It returns false when the section is not present in the
// form it recognises.
type Extractor interface {
	Name() string
	Extract(text, section string, known []string) (string, bool)
}

// DefaultExtractors is the priority order used by the composer.
func DefaultExtractors() []Extractor {
	return []Extractor{
		bracketExtractor{},
		headingExtractor{},
		boldExtractor{},
		lineExtractor{},
		keywordExtractor{},
	}
}

var (
	// markdownHeading and bracketHeading always start a new block.
	markdownHeading = regexp.MustCompile(`^\s*#{1,6}\s+\S`)
	bracketHeading  = regexp.MustCompile(`^\s*(?:【[^】]{1,20}】|\[[^\]]{1,20}\])`)

	// labelledLine captures the label of numbered, Chinese-numeral and bold lines.
	// These are list items unless the label names a known section.
	labelledLine = regexp.MustCompile(`^\s*(?:\d{1,2}[.、)）]|[一二三四五六七八九十]{1,3}[、.．]|[-*]\s+\*\*|\*\*)\s*(?:\*\*)?\s*(\S.*)$`)
)

// anyBracket matches any bracketed section marker.
var anyBracket = regexp.MustCompile(`【[^】\n]{1,20}】|\[[^\]\n]{1,20}\]`)

// isBoundary reports whether line starts another section.
func isBoundary(line string, known []string) bool {
	if markdownHeading.MatchString(line) || bracketHeading.MatchString(line) {
		return true
	}
	m := labelledLine.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	for _, name := range known {
		if strings.HasPrefix(m[1], name) {
			return true
		}
	}
	return false
}

// untilNextHeading returns lines up to (not including) the first section boundary.
func untilNextHeading(lines []string, known []string) string {
	var out []string
	for _, line := range lines {
		if isBoundary(line, known) {
			break
		}
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}

// bracketExtractor handles 【name】 and [name] markers.
type bracketExtractor struct{}

func (bracketExtractor) Name() string { return "bracket" }

func (bracketExtractor) Extract(text, section string, known []string) (string, bool) {
	re := regexp.MustCompile(`[【\[]\s*` + regexp.QuoteMeta(section) + `\s*[】\]]\s*[:：]?`)
	loc := re.FindStringIndex(text)
	if loc == nil {
		return "", false
	}

	rest := text[loc[1]:]
	if next := anyBracket.FindStringIndex(rest); next != nil {
		rest = rest[:next[0]]
	}

	// cut at a heading of another style naming a known section
	lines := strings.Split(rest, "\n")
	content := strings.TrimSpace(lines[0])
	if len(lines) > 1 {
		if tail := untilNextHeading(lines[1:], known); tail != "" {
			content = strings.TrimSpace(content + "\n" + tail)
		}
	}
	return content, content != ""
}

// headingExtractor handles markdown, numbered and Chinese-numeral headings.
type headingExtractor struct{}

func (headingExtractor) Name() string { return "heading" }

func (headingExtractor) Extract(text, section string, known []string) (string, bool) {
	re := regexp.MustCompile(`^\s*(?:#{1,6}\s*|\d{1,2}[.、)）]\s*|[一二三四五六七八九十]{1,3}[、.．]\s*)(?:\*\*)?` +
		regexp.QuoteMeta(section) + `(?:\*\*)?\s*[:：]?\s*(.*)$`)
	return blockAfter(text, re, known)
}

// boldExtractor handles **name** emphasis used as a heading.
type boldExtractor struct{}

func (boldExtractor) Name() string { return "bold" }

func (boldExtractor) Extract(text, section string, known []string) (string, bool) {
	re := regexp.MustCompile(`^\s*(?:[-*]\s+)?\*\*` + regexp.QuoteMeta(section) + `\s*[:：]?\s*\*\*\s*[:：]?\s*(.*)$`)
	return blockAfter(text, re, known)
}

// blockAfter finds the first line matching re and returns the text captured on that line
// followed by subsequent lines up to the next heading.
func blockAfter(text string, re *regexp.Regexp, known []string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		m := re.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		parts := []string{strings.TrimSpace(m[1])}
		if body := untilNextHeading(lines[i+1:], known); body != "" {
			parts = append(parts, body)
		}
		content := strings.TrimSpace(strings.Join(parts, "\n"))
		return content, content != ""
	}
	return "", false
}

// lineExtractor handles a single "name: value" line.
type lineExtractor struct{}

func (lineExtractor) Name() string { return "line" }

func (lineExtractor) Extract(text, section string, _ []string) (string, bool) {
	re := regexp.MustCompile(`(?m)^\s*(?:[-*]\s+)?` + regexp.QuoteMeta(section) + `\s*[:：]\s*(.+)$`)
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	content := strings.TrimSpace(m[1])
	return content, content != ""
}

// keywordExtractor is the last resort: the first line mentioning the section name,
// plus the contiguous non-empty lines after it.
type keywordExtractor struct{}

func (keywordExtractor) Name() string { return "keyword" }

func (keywordExtractor) Extract(text, section string, known []string) (string, bool) {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		idx := strings.Index(line, section)
		if idx < 0 {
			continue
		}

		first := strings.TrimLeft(line[idx+len(section):], " \t:：*】]")
		parts := []string{strings.TrimSpace(first)}
		for _, next := range lines[i+1:] {
			if strings.TrimSpace(next) == "" || isBoundary(next, known) {
				break
			}
			parts = append(parts, strings.TrimSpace(next))
		}

		content := strings.TrimSpace(strings.Join(parts, "\n"))
		if content != "" {
			return content, true
		}
	}
	return "", false
}

// runeLen counts characters, not bytes.
func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

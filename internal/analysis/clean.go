package analysis

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/yuin/goldmark"
)

// Length limits applied to extracted sections, in characters.
const (
	MinSectionLength = 2
	SoftLimit        = 400
	HardLimit        = 600
)

var (
	md          = goldmark.New()
	blankRuns   = regexp.MustCompile(`\n{3,}`)
	spaceRuns   = regexp.MustCompile(`[ \t\x{3000}]+`)
	sentenceEnd = "。！？!?；;\n"
)

// Clean converts a raw extracted block into plain text: markdown is rendered and
// stripped, whitespace normalised and long text cut at a sentence boundary.
func Clean(raw string) string {
	text := stripMarkdown(raw)

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spaceRuns.ReplaceAllString(line, " "))
	}
	text = blankRuns.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
	text = strings.TrimSpace(text)

	return truncate(text)
}

// stripMarkdown renders raw with goldmark and returns the text content of the HTML.
// On any failure the input is returned unchanged.
func stripMarkdown(raw string) string {
	var buf bytes.Buffer
	if err := md.Convert([]byte(raw), &buf); err != nil {
		return raw
	}
	doc, err := goquery.NewDocumentFromReader(&buf)
	if err != nil {
		return raw
	}
	return doc.Text()
}

// truncate keeps text up to the first sentence end at or after SoftLimit characters.
// If no boundary occurs before HardLimit the text is cut there with an ellipsis.
func truncate(text string) string {
	runes := []rune(text)
	if len(runes) <= SoftLimit {
		return text
	}
	for i := SoftLimit; i < len(runes) && i < HardLimit; i++ {
		if strings.ContainsRune(sentenceEnd, runes[i]) {
			return strings.TrimSpace(string(runes[:i+1]))
		}
	}
	if len(runes) <= HardLimit {
		return text
	}
	return string(runes[:HardLimit]) + "…"
}

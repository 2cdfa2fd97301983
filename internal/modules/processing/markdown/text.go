package markdown

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"
)

const wordsPerMinute = 200

// StripHTML returns the text content of an HTML fragment with runs of
// whitespace collapsed. Script and style bodies are dropped.
func StripHTML(fragment string) string {
	z := html.NewTokenizer(strings.NewReader(fragment))
	var b strings.Builder
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a malformed tail; keep what was read either way.
			return strings.Join(strings.Fields(b.String()), " ")
		case html.StartTagToken, html.EndTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			if isSkipped(name) {
				if tt == html.StartTagToken {
					skip++
				} else if tt == html.EndTagToken && skip > 0 {
					skip--
				}
			}
			if blockTags[string(name)] {
				b.WriteByte(' ')
			}
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Text())
			}
		}
	}
}

var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "hr": true, "li": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "tr": true, "td": true, "th": true,
}

func isSkipped(tag []byte) bool {
	return bytes.Equal(tag, []byte("script")) || bytes.Equal(tag, []byte("style"))
}

// Truncate cuts s to at most n runes and appends "..." when it did cut.
func Truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimRight(string(runes[:n]), " ") + "..."
}

// PlainExcerpt renders markdown, strips the markup and truncates to n runes.
func PlainExcerpt(markdownText string, n int) string {
	return Truncate(StripHTML(Render(markdownText)), n)
}

// ReadTime estimates reading time at a fixed words-per-minute pace, never
// less than one minute.
func ReadTime(markdownText string) string {
	words := len(strings.Fields(StripHTML(Render(markdownText))))
	minutes := (words + wordsPerMinute - 1) / wordsPerMinute
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("%d min read", minutes)
}

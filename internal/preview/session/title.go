package session

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/microcosm-cc/bluemonday"
)

var titlePolicy = bluemonday.StrictPolicy()

// maxTitleLen bounds the toolbar title, in runes.
const maxTitleLen = 120

// DocumentTitle extracts the <title> of content as plain text. Markup is
// stripped and whitespace collapsed; an unparsable document has no title.
func DocumentTitle(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return ""
	}

	raw := doc.Find("title").First().Text()
	// StrictPolicy escapes what it keeps; the title is re-escaped wherever
	// it is rendered.
	text := html.UnescapeString(titlePolicy.Sanitize(raw))
	text = strings.Join(strings.Fields(text), " ")

	if r := []rune(text); len(r) > maxTitleLen {
		text = string(r[:maxTitleLen-1]) + "…"
	}
	return text
}

// PanelTitle is the title of the preview surface for a document named base.
func PanelTitle(base string) string {
	return TitlePrefix + base
}

package extractor

import (
	"fmt"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/JohannesKaufmann/html-to-markdown/plugin"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Converted is the markdown rendering of an HTML page plus the metadata found in it.
type Converted struct {
	Title         string
	Markdown      string
	PublishedTime *time.Time
}

// Converter turns HTML into markdown, keeping the main content area.
type Converter struct {
	md *md.Converter
}

func NewConverter() *Converter {
	converter := md.NewConverter("", true, nil)
	converter.Use(plugin.GitHubFlavored())
	return &Converter{md: converter}
}

var noiseSelectors = strings.Join([]string{
	"script", "style", "noscript", "iframe", "object", "embed", "template",
	"nav", "header", "footer", "aside", "form", "button", "input", "svg",
	"[role=navigation]", "[aria-hidden=true]",
	".sidebar", ".navbar", ".menu", ".breadcrumb", ".advertisement", ".ad", ".share", ".comments",
}, ", ")

// Convert parses a full HTML page.
func (c *Converter) Convert(rawHTML string) (*Converted, error) {
	node, err := html.Parse(strings.NewReader(sanitizeUTF8(rawHTML)))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	doc := goquery.NewDocumentFromNode(node)
	out := &Converted{
		Title:         extractTitle(doc),
		PublishedTime: extractPublishedTime(doc),
	}

	doc.Find(noiseSelectors).Remove()
	main := doc.Find("main, article, [role=main]").First()
	if main.Length() == 0 {
		main = doc.Find("body")
	}
	body, err := main.Html()
	if err != nil {
		return nil, fmt.Errorf("render main content: %w", err)
	}
	markdown, err := c.md.ConvertString(body)
	if err != nil {
		return nil, fmt.Errorf("convert to markdown: %w", err)
	}
	out.Markdown = cleanMarkdown(markdown)
	if out.Title == "" {
		out.Title = markdownTitle(out.Markdown)
	}
	return out, nil
}

// ConvertFragment renders an HTML fragment without main-content selection.
func (c *Converter) ConvertFragment(fragment string) (string, error) {
	markdown, err := c.md.ConvertString(sanitizeUTF8(fragment))
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}
	return cleanMarkdown(markdown), nil
}

func extractTitle(doc *goquery.Document) string {
	candidates := []string{
		doc.Find(`meta[property="og:title"]`).AttrOr("content", ""),
		doc.Find(`meta[name="twitter:title"]`).AttrOr("content", ""),
		doc.Find("title").First().Text(),
		doc.Find("h1").First().Text(),
	}
	for _, c := range candidates {
		if t := collapseWhitespace(c); t != "" {
			return t
		}
	}
	return ""
}

var publishedSelectors = []struct {
	selector string
	attr     string
}{
	{`meta[property="article:published_time"]`, "content"},
	{`meta[name="article:published_time"]`, "content"},
	{`meta[itemprop="datePublished"]`, "content"},
	{`meta[name="date"]`, "content"},
	{`time[datetime]`, "datetime"},
}

var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func extractPublishedTime(doc *goquery.Document) *time.Time {
	for _, s := range publishedSelectors {
		raw := strings.TrimSpace(doc.Find(s.selector).First().AttrOr(s.attr, ""))
		if raw == "" {
			continue
		}
		if t, ok := parseTime(raw); ok {
			return &t
		}
	}
	return nil
}

func parseTime(raw string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func markdownTitle(markdown string) string {
	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

package htmlutil

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/PuerkitoBio/purell"
	"golang.org/x/net/html"
)

func GetText(node *html.Node) string {
	var buffer bytes.Buffer
	getTextRecursive(node, &buffer)
	return buffer.String()
}

func getTextRecursive(node *html.Node, buffer *bytes.Buffer) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		buffer.WriteString(node.Data)
		return
	}
	child := node.FirstChild
	for child != nil {
		getTextRecursive(child, buffer)
		child = child.NextSibling
	}
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText trims the string, strips non printable characters and collapses
// runs of whitespace into a single space.
func CleanText(s string) string {
	s = removeNonPrintable(s)
	s = strings.TrimSpace(s)
	return innerWhitespace.ReplaceAllString(s, " ")
}

// Text returns the cleaned text of every node in the selection, separated
// by single spaces.
func Text(sel *goquery.Selection) string {
	parts := make([]string, len(sel.Nodes))
	for i, n := range sel.Nodes {
		parts[i] = GetText(n)
	}
	return CleanText(strings.Join(parts, " "))
}

// Attr returns the first non-empty value of the given attributes on the
// first node of the selection.
func Attr(sel *goquery.Selection, attrs ...string) string {
	for _, a := range attrs {
		value, ok := sel.Attr(a)
		value = strings.TrimSpace(value)
		if ok && value != "" {
			return value
		}
	}
	return ""
}

type Anchor struct {
	Name string
	Url  *url.URL
}

const normalizeFlags = purell.FlagsSafe |
	purell.FlagRemoveDotSegments |
	purell.FlagRemoveDuplicateSlashes |
	purell.FlagRemoveFragment

// Resolve makes a possibly relative or protocol-relative link absolute
// against base and normalizes it. Links that fail to parse are returned as
// is, an empty link stays empty.
func Resolve(base *url.URL, link string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}
	parsed, err := url.Parse(link)
	if err != nil {
		return link
	}
	if base != nil {
		parsed = base.ResolveReference(parsed)
	}
	return purell.NormalizeURL(parsed, normalizeFlags)
}

// GetAnchors returns the anchors in the selection with their links resolved
// against base. Anchors without a usable href are skipped.
func GetAnchors(base *url.URL, sel *goquery.Selection) []Anchor {
	anchors := []Anchor{}
	sel.Each(func(_ int, s *goquery.Selection) {
		href := Attr(s, "href")
		if href == "" {
			return
		}
		link, err := url.Parse(Resolve(base, href))
		if err != nil {
			return
		}
		anchors = append(anchors, Anchor{
			Name: Text(s),
			Url:  link,
		})
	})
	return anchors
}

// LastSegment returns the last non-empty path segment of a link, this is how
// most anime sites encode slugs.
func LastSegment(link string) string {
	if parsed, err := url.Parse(link); err == nil {
		link = parsed.Path
	}
	segments := strings.Split(link, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return ""
}

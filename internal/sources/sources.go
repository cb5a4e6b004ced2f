package sources

import (
	"animeagg/internal/anime"
	"animeagg/internal/fetch"
	"animeagg/lib/htmlutil"
	"bytes"
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("internal/sources")

// Adapter turns the pages of one upstream site into normalized records.
type Adapter interface {
	Name() anime.Source
	ListTrending(ctx context.Context, limit int) ([]anime.Listing, error)
	Search(ctx context.Context, query string, page int) (anime.SearchPage, error)
	GetDetail(ctx context.Context, slug string) (anime.Detail, error)
	ListEpisodes(ctx context.Context, slug string) ([]anime.Episode, error)
	GetEpisodeSources(ctx context.Context, slug string, episode int, preferredServer string) ([]anime.EpisodeSource, error)
}

// Fetcher is the part of fetch.Client the adapters need.
type Fetcher interface {
	Fetch(ctx context.Context, url string, opts fetch.Options) ([]byte, error)
}

var DefaultBaseURLs = map[anime.Source]string{
	anime.Gogoanime: "https://gogoanime3.co",
	anime.NineAnime: "https://9anime.pl",
	anime.Zoro:      "https://zoro.to",
}

// New creates the adapters for the given sources in order, baseURLs
// overrides the default base url of a source.
func New(fetcher Fetcher, order []anime.Source, baseURLs map[anime.Source]string) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(order))
	for _, source := range order {
		base := baseURLs[source]
		if base == "" {
			base = DefaultBaseURLs[source]
		}
		baseURL, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("base url of %s: %w", source, err)
		}

		site := site{source: source, base: baseURL, fetcher: fetcher}
		switch source {
		case anime.Gogoanime:
			adapters = append(adapters, Gogoanime{site})
		case anime.NineAnime:
			adapters = append(adapters, NineAnime{site})
		case anime.Zoro:
			adapters = append(adapters, Zoro{site})
		default:
			return nil, anime.UnknownSourceError{Name: string(source)}
		}
	}
	return adapters, nil
}

// site holds what every adapter needs to load and parse pages.
type site struct {
	source  anime.Source
	base    *url.URL
	fetcher Fetcher
}

func (s site) url(path string, query url.Values) string {
	u := s.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// load fetches a page and returns it along with its root container, an
// ExtractionError is returned when the container is missing.
func (s site) load(ctx context.Context, span trace.Span, page, root string) (*goquery.Document, *goquery.Selection, error) {
	body, err := s.fetcher.Fetch(ctx, page, fetch.Options{
		Headers: map[string]string{"Referer": s.base.String() + "/"},
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to fetch")
		return nil, nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to parse html")
		return nil, nil, fmt.Errorf("parse %s: %w", page, err)
	}
	container := doc.Find(root)
	if container.Length() == 0 {
		err := anime.ExtractionError{Source: s.source, Page: page, Selector: root}
		span.RecordError(err)
		span.SetStatus(codes.Error, "missing root container")
		return nil, nil, err
	}
	return doc, container, nil
}

func (s site) resolve(link string) string {
	return htmlutil.Resolve(s.base, link)
}

// image picks the lazy loaded source of an image before its src.
func (s site) image(sel *goquery.Selection) string {
	return s.resolve(htmlutil.Attr(sel.First(), "data-src", "src"))
}

var digits = regexp.MustCompile(`\d+`)

// firstInt returns the first run of digits in text, or fallback.
func firstInt(text string, fallback int) int {
	match := digits.FindString(text)
	if match == "" {
		return fallback
	}
	value, err := strconv.Atoi(match)
	if err != nil {
		return fallback
	}
	return value
}

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

func parseYear(text string) int {
	match := yearPattern.FindString(text)
	if match == "" {
		return 0
	}
	year, _ := strconv.Atoi(match)
	return year
}

var ratingPattern = regexp.MustCompile(`\d+(\.\d+)?`)

func parseRating(text string) float64 {
	match := ratingPattern.FindString(text)
	if match == "" {
		return 0
	}
	rating, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0
	}
	return rating
}

func splitGenres(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == ',' || r == '\n'
	})
}

// metadata reads "Key: value" rows, keys are lowercased.
func metadata(rows *goquery.Selection, read func(row *goquery.Selection) (string, string)) map[string]string {
	out := map[string]string{}
	rows.Each(func(_ int, row *goquery.Selection) {
		key, value := read(row)
		key = strings.ToLower(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(key), ":")))
		if key == "" {
			return
		}
		out[key] = strings.TrimSpace(value)
	})
	return out
}

// splitKeyValue splits "Key: value" text.
func splitKeyValue(text string) (string, string) {
	key, value, ok := strings.Cut(text, ":")
	if !ok {
		return "", ""
	}
	return key, value
}

func firstOf(values map[string]string, keys ...string) string {
	for _, k := range keys {
		if v := values[k]; v != "" {
			return v
		}
	}
	return ""
}

// normalizeStatus maps the different wordings of airing status to
// "Ongoing" or "Completed".
func normalizeStatus(status string) string {
	lower := strings.ToLower(status)
	switch {
	case lower == "":
		return ""
	case strings.Contains(lower, "ongoing"), strings.Contains(lower, "airing") && !strings.Contains(lower, "finished"):
		return "Ongoing"
	default:
		return "Completed"
	}
}

// hasNextPage looks for a pagination control pointing to the next page.
func hasNextPage(doc *goquery.Document) bool {
	found := false
	doc.Find(".pagination a, .pagination-list a, .pagination li a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		label := strings.ToLower(htmlutil.Text(a) + " " + htmlutil.Attr(a, "title", "rel", "aria-label"))
		if strings.Contains(label, "next") || strings.Contains(label, "»") || strings.Contains(label, "›") {
			found = true
			return false
		}
		return true
	})
	return found
}

// serverListSources extracts servers from a select of servers and from
// server link lists, used by the sites sharing that layout.
func (s site) serverListSources(root *goquery.Selection) []anime.EpisodeSource {
	var out []anime.EpisodeSource
	root.Find("#servers-list > option").Each(func(_ int, option *goquery.Selection) {
		link := s.resolve(htmlutil.Attr(option, "value"))
		if link == "" {
			return
		}
		out = append(out, anime.EpisodeSource{
			Server:   htmlutil.Text(option),
			URL:      link,
			Priority: 1,
		})
	})
	root.Find(".server-list a, .servers a").Each(func(i int, a *goquery.Selection) {
		link := s.resolve(htmlutil.Attr(a, "data-video", "data-src", "href"))
		if link == "" || strings.HasPrefix(link, "javascript:") {
			return
		}
		server := htmlutil.Text(a)
		if server == "" {
			server = fmt.Sprintf("server-%d", i)
		}
		out = append(out, anime.EpisodeSource{
			Server:   server,
			URL:      link,
			Priority: 1,
		})
	})
	return out
}

func limitListings(listings []anime.Listing, limit int) []anime.Listing {
	if limit > 0 && len(listings) > limit {
		return listings[:limit]
	}
	return listings
}

func searchQuery(query string, page int) url.Values {
	if page < 1 {
		page = 1
	}
	return url.Values{
		"keyword": []string{query},
		"page":    []string{strconv.Itoa(page)},
	}
}

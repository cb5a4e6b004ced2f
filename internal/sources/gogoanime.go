package sources

import (
	"animeagg/internal/anime"
	"animeagg/lib/htmlutil"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
)

// maxEpisodeRange caps the episodes generated from range anchors.
const maxEpisodeRange = 10000

type Gogoanime struct {
	site
}

func (Gogoanime) Name() anime.Source {
	return anime.Gogoanime
}

func (g Gogoanime) listings(doc *goquery.Document) []anime.Listing {
	var out []anime.Listing
	doc.Find(".last_episodes .items li, .items li").Each(func(_ int, item *goquery.Selection) {
		a := item.Find("p.name a, .name a").First()
		slug := htmlutil.LastSegment(htmlutil.Attr(a, "href"))
		if slug == "" {
			return
		}
		title := htmlutil.Text(a)
		if title == "" {
			title = htmlutil.Attr(a, "title")
		}
		out = append(out, anime.NewListing(
			anime.Gogoanime,
			slug,
			title,
			g.image(item.Find("img")),
			firstInt(htmlutil.Text(item.Find("p.episode, .episode")), 1),
		))
	})
	return out
}

func (g Gogoanime) ListTrending(ctx context.Context, limit int) ([]anime.Listing, error) {
	ctx, span := tracer.Start(ctx, "gogoanime:ListTrending")
	defer span.End()

	doc, _, err := g.load(ctx, span, g.url("/popular.html", nil), ".last_episodes, .items")
	if err != nil {
		return nil, err
	}
	return limitListings(g.listings(doc), limit), nil
}

func (g Gogoanime) Search(ctx context.Context, query string, page int) (anime.SearchPage, error) {
	ctx, span := tracer.Start(ctx, "gogoanime:Search")
	defer span.End()
	span.SetAttributes(attribute.String("query", query), attribute.Int("page", page))

	doc, _, err := g.load(ctx, span, g.url("/search.html", searchQuery(query, page)), ".last_episodes, .items")
	if err != nil {
		return anime.SearchPage{}, err
	}
	hasMore := doc.Find(".pagination-list li.selected").NextAll().Length() > 0 || hasNextPage(doc)
	return anime.SearchPage{Items: g.listings(doc), HasMore: hasMore}, nil
}

func (g Gogoanime) episodeSlug(slug string, number int) string {
	return fmt.Sprintf("%s-episode-%d", slug, number)
}

// episodes expands the ep_start/ep_end range anchors, a range covers
// (ep_start, ep_end].
func (g Gogoanime) episodes(doc *goquery.Document, slug string) []anime.Episode {
	var out []anime.Episode
	doc.Find("#episode_page li a, .episode_page li a").Each(func(_ int, a *goquery.Selection) {
		start, err := strconv.Atoi(strings.TrimSpace(htmlutil.Attr(a, "ep_start")))
		if err != nil {
			start = 0
		}
		end, err := strconv.Atoi(strings.TrimSpace(htmlutil.Attr(a, "ep_end")))
		if err != nil || end < start {
			return
		}
		for n := max(start+1, 1); n <= end && len(out) < maxEpisodeRange; n++ {
			out = append(out, anime.Episode{Number: n, Slug: g.episodeSlug(slug, n)})
		}
	})
	return anime.NormalizeEpisodes(out)
}

func (g Gogoanime) GetDetail(ctx context.Context, slug string) (anime.Detail, error) {
	ctx, span := tracer.Start(ctx, "gogoanime:GetDetail")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug))

	doc, root, err := g.load(ctx, span, g.url("/category/"+slug, nil), ".anime_info_body_bg")
	if err != nil {
		return anime.Detail{}, err
	}

	meta := metadata(root.Find("p.type"), func(row *goquery.Selection) (string, string) {
		return splitKeyValue(htmlutil.Text(row))
	})
	description := htmlutil.Text(root.Find(".description"))
	if description == "" {
		description = meta["plot summary"]
	}

	detail := anime.Detail{
		Listing: anime.NewListing(
			anime.Gogoanime,
			slug,
			htmlutil.Text(root.Find("h1").First()),
			g.image(root.Find("img")),
			1,
		),
		Description: description,
		Genres:      splitGenres(meta["genre"]),
		Episodes:    g.episodes(doc, slug),
		Status:      normalizeStatus(meta["status"]),
		ReleaseYear: parseYear(meta["released"]),
		Rating:      parseRating(meta["rating"]),
	}
	detail.Normalize()
	return detail, nil
}

func (g Gogoanime) ListEpisodes(ctx context.Context, slug string) ([]anime.Episode, error) {
	ctx, span := tracer.Start(ctx, "gogoanime:ListEpisodes")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug))

	doc, _, err := g.load(ctx, span, g.url("/category/"+slug, nil), "#episode_page, .episode_page")
	if err != nil {
		return nil, err
	}
	return g.episodes(doc, slug), nil
}

func (g Gogoanime) GetEpisodeSources(ctx context.Context, slug string, episode int, preferredServer string) ([]anime.EpisodeSource, error) {
	ctx, span := tracer.Start(ctx, "gogoanime:GetEpisodeSources")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug), attribute.Int("episode", episode))

	doc, root, err := g.load(ctx, span, g.url("/"+g.episodeSlug(slug, episode), nil), ".anime_muti_link")
	if err != nil {
		return nil, err
	}

	var out []anime.EpisodeSource
	root.Find("ul li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find("a").First()
		video := htmlutil.Attr(a, "data-video")
		if video == "" || strings.Contains(video, "streaming.php") {
			return
		}
		server := htmlutil.CleanText(strings.Replace(htmlutil.Text(li), "Choose this server", "", 1))
		out = append(out, anime.EpisodeSource{
			Server:   server,
			URL:      g.resolve(video),
			Quality:  "HD",
			Priority: 1,
		})
	})
	doc.Find(".download_anime li a, .dowloads a").Each(func(_ int, a *goquery.Selection) {
		link := htmlutil.Attr(a, "href")
		if link == "" {
			return
		}
		out = append(out, anime.EpisodeSource{
			Server:     htmlutil.Text(a),
			URL:        g.resolve(link),
			Quality:    "720p",
			IsDownload: true,
			Priority:   2,
		})
	})

	return anime.FilterServers(out, preferredServer), nil
}

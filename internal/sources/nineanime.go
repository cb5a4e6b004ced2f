package sources

import (
	"animeagg/internal/anime"
	"animeagg/lib/htmlutil"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
)

type NineAnime struct {
	site
}

func (NineAnime) Name() anime.Source {
	return anime.NineAnime
}

func (n NineAnime) listings(doc *goquery.Document) []anime.Listing {
	var out []anime.Listing
	doc.Find(".film-list .item").Each(func(_ int, item *goquery.Selection) {
		name := item.Find(".info .name").First()
		href := htmlutil.Attr(name, "href")
		title := htmlutil.Text(name)
		if href == "" || title == "" {
			a := item.Find("a").First()
			if href == "" {
				href = htmlutil.Attr(a, "href")
			}
			if title == "" {
				title = htmlutil.Text(a)
			}
		}
		slug := htmlutil.LastSegment(href)
		if slug == "" {
			return
		}
		image := n.image(item.Find(".poster img"))
		if image == "" {
			image = n.image(item.Find("img"))
		}
		out = append(out, anime.NewListing(
			anime.NineAnime,
			slug,
			title,
			image,
			firstInt(htmlutil.Text(item.Find(".ep-status")), 1),
		))
	})
	return out
}

func (n NineAnime) ListTrending(ctx context.Context, limit int) ([]anime.Listing, error) {
	ctx, span := tracer.Start(ctx, "nineanime:ListTrending")
	defer span.End()

	doc, _, err := n.load(ctx, span, n.url("/trending", nil), ".film-list")
	if err != nil {
		return nil, err
	}
	return limitListings(n.listings(doc), limit), nil
}

func (n NineAnime) Search(ctx context.Context, query string, page int) (anime.SearchPage, error) {
	ctx, span := tracer.Start(ctx, "nineanime:Search")
	defer span.End()
	span.SetAttributes(attribute.String("query", query), attribute.Int("page", page))

	doc, _, err := n.load(ctx, span, n.url("/search", searchQuery(query, page)), ".film-list")
	if err != nil {
		return anime.SearchPage{}, err
	}
	return anime.SearchPage{Items: n.listings(doc), HasMore: hasNextPage(doc)}, nil
}

// episodeAnchors reads episode anchors, the number comes from data-num or the
// anchor text and falls back to the position.
func episodeAnchors(sel *goquery.Selection, slug string) []anime.Episode {
	var out []anime.Episode
	sel.Each(func(i int, a *goquery.Selection) {
		number := firstInt(htmlutil.Attr(a, "data-number", "data-num"), 0)
		if number <= 0 {
			number = firstInt(htmlutil.Text(a), i+1)
		}
		out = append(out, anime.Episode{
			Number: number,
			Slug:   fmt.Sprintf("%s/ep-%d", slug, number),
		})
	})
	return anime.NormalizeEpisodes(out)
}

func (n NineAnime) GetDetail(ctx context.Context, slug string) (anime.Detail, error) {
	ctx, span := tracer.Start(ctx, "nineanime:GetDetail")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug))

	doc, root, err := n.load(ctx, span, n.url("/watch/"+slug, nil), ".detail")
	if err != nil {
		return anime.Detail{}, err
	}

	meta := metadata(root.Find(".meta .row"), func(row *goquery.Selection) (string, string) {
		return htmlutil.Text(row.Find(".type")), htmlutil.Text(row.Find(".content"))
	})
	genres := []string{}
	root.Find(".genre a").Each(func(_ int, a *goquery.Selection) {
		genres = append(genres, htmlutil.Text(a))
	})
	if len(genres) == 0 {
		genres = splitGenres(meta["genre"])
	}

	detail := anime.Detail{
		Listing: anime.NewListing(
			anime.NineAnime,
			slug,
			htmlutil.Text(root.Find(".title").First()),
			n.image(root.Find(".poster img")),
			1,
		),
		Description: htmlutil.Text(root.Find(".synopsis, .description").First()),
		Genres:      genres,
		Episodes:    episodeAnchors(doc.Find("#episodes a"), slug),
		Status:      normalizeStatus(meta["status"]),
		ReleaseYear: parseYear(firstOf(meta, "date aired", "aired", "released", "premiered")),
		Rating:      parseRating(firstOf(meta, "score", "rating", "mal")),
	}
	detail.Normalize()
	return detail, nil
}

func (n NineAnime) ListEpisodes(ctx context.Context, slug string) ([]anime.Episode, error) {
	ctx, span := tracer.Start(ctx, "nineanime:ListEpisodes")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug))

	_, root, err := n.load(ctx, span, n.url("/watch/"+slug, nil), "#episodes")
	if err != nil {
		return nil, err
	}
	return episodeAnchors(root.Find("a"), slug), nil
}

func (n NineAnime) GetEpisodeSources(ctx context.Context, slug string, episode int, preferredServer string) ([]anime.EpisodeSource, error) {
	ctx, span := tracer.Start(ctx, "nineanime:GetEpisodeSources")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug), attribute.Int("episode", episode))

	doc, _, err := n.load(
		ctx, span,
		n.url(fmt.Sprintf("/watch/%s/ep-%d", slug, episode), nil),
		"#servers-list, .server-list, .servers",
	)
	if err != nil {
		return nil, err
	}
	return anime.FilterServers(n.serverListSources(doc.Selection), preferredServer), nil
}

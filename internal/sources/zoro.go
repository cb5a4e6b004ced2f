package sources

import (
	"animeagg/internal/anime"
	"animeagg/lib/htmlutil"
	"context"
	"fmt"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
)

type Zoro struct {
	site
}

func (Zoro) Name() anime.Source {
	return anime.Zoro
}

func (z Zoro) listings(doc *goquery.Document) []anime.Listing {
	var out []anime.Listing
	doc.Find(".flw-item").Each(func(_ int, item *goquery.Selection) {
		name := item.Find(".dynamic-name").First()
		href := htmlutil.Attr(name, "href")
		if href == "" {
			href = htmlutil.Attr(item.Find("a").First(), "href")
		}
		slug := htmlutil.LastSegment(href)
		if slug == "" {
			return
		}
		title := htmlutil.Text(name)
		if title == "" {
			title = htmlutil.Attr(name, "title", "data-jname")
		}
		out = append(out, anime.NewListing(
			anime.Zoro,
			slug,
			title,
			z.image(item.Find("img")),
			firstInt(htmlutil.Text(item.Find(".tick-eps, .tick-sub").First()), 1),
		))
	})
	return out
}

func (z Zoro) ListTrending(ctx context.Context, limit int) ([]anime.Listing, error) {
	ctx, span := tracer.Start(ctx, "zoro:ListTrending")
	defer span.End()

	doc, _, err := z.load(ctx, span, z.url("/trending", nil), ".film_list-wrap, .flw-item")
	if err != nil {
		return nil, err
	}
	return limitListings(z.listings(doc), limit), nil
}

func (z Zoro) Search(ctx context.Context, query string, page int) (anime.SearchPage, error) {
	ctx, span := tracer.Start(ctx, "zoro:Search")
	defer span.End()
	span.SetAttributes(attribute.String("query", query), attribute.Int("page", page))

	doc, _, err := z.load(ctx, span, z.url("/search", searchQuery(query, page)), ".film_list-wrap, .film_list, .flw-item")
	if err != nil {
		return anime.SearchPage{}, err
	}
	return anime.SearchPage{Items: z.listings(doc), HasMore: hasNextPage(doc)}, nil
}

func (z Zoro) GetDetail(ctx context.Context, slug string) (anime.Detail, error) {
	ctx, span := tracer.Start(ctx, "zoro:GetDetail")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug))

	doc, root, err := z.load(ctx, span, z.url("/watch/"+slug, nil), ".anisc-detail")
	if err != nil {
		return anime.Detail{}, err
	}

	info := doc.Find(".anisc-info .item")
	meta := metadata(info, func(row *goquery.Selection) (string, string) {
		return htmlutil.Text(row.Find(".item-head")), htmlutil.Text(row.Find(".name, .text"))
	})
	genres := []string{}
	info.Find("a[href*='genre']").Each(func(_ int, a *goquery.Selection) {
		genres = append(genres, htmlutil.Text(a))
	})

	description := htmlutil.Text(root.Find(".film-description .text"))
	if description == "" {
		description = htmlutil.Text(root.Find(".film-description"))
	}

	detail := anime.Detail{
		Listing: anime.NewListing(
			anime.Zoro,
			slug,
			htmlutil.Text(root.Find(".film-name").First()),
			z.image(doc.Find(".anisc-poster .film-poster-img")),
			1,
		),
		Description: description,
		Genres:      genres,
		Episodes:    episodeAnchors(doc.Find("#episodes-content a, #episodes a"), slug),
		Status:      normalizeStatus(meta["status"]),
		ReleaseYear: parseYear(firstOf(meta, "aired", "premiered", "released")),
		Rating:      parseRating(firstOf(meta, "mal score", "score", "rating")),
	}
	detail.Normalize()
	return detail, nil
}

func (z Zoro) ListEpisodes(ctx context.Context, slug string) ([]anime.Episode, error) {
	ctx, span := tracer.Start(ctx, "zoro:ListEpisodes")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug))

	_, root, err := z.load(ctx, span, z.url("/watch/"+slug, nil), "#episodes-content, #episodes")
	if err != nil {
		return nil, err
	}
	return episodeAnchors(root.Find("a"), slug), nil
}

func (z Zoro) GetEpisodeSources(ctx context.Context, slug string, episode int, preferredServer string) ([]anime.EpisodeSource, error) {
	ctx, span := tracer.Start(ctx, "zoro:GetEpisodeSources")
	defer span.End()
	span.SetAttributes(attribute.String("slug", slug), attribute.Int("episode", episode))

	doc, _, err := z.load(
		ctx, span,
		z.url(fmt.Sprintf("/watch/%s/ep-%d", slug, episode), nil),
		"#servers-list, .server-list, .servers",
	)
	if err != nil {
		return nil, err
	}
	return anime.FilterServers(z.serverListSources(doc.Selection), preferredServer), nil
}

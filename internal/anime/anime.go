package anime

import (
	"fmt"
	"sort"
	"strings"
)

// Source names a supported upstream site.
type Source string

const (
	Gogoanime Source = "gogoanime"
	NineAnime Source = "nineanime"
	Zoro      Source = "zoro"
)

// AllSources lists every supported source in the default merge order.
var AllSources = []Source{Gogoanime, NineAnime, Zoro}

var sourceAliases = map[string]Source{
	"gogoanime": Gogoanime,
	"gogo":      Gogoanime,
	"nineanime": NineAnime,
	"9anime":    NineAnime,
	"zoro":      Zoro,
}

// ParseSource resolves user input (case-insensitive, aliases allowed) to a
// Source.
func ParseSource(name string) (Source, error) {
	source, ok := sourceAliases[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", UnknownSourceError{Name: name}
	}
	return source, nil
}

func (s Source) String() string {
	return string(s)
}

// Listing is a single anime as it appears in trending or search results.
type Listing struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Slug          string  `json:"slug"`
	ImageURL      string  `json:"imageUrl"`
	LatestEpisode int     `json:"latestEpisode"`
	Source        Source  `json:"source"`
	Detail        *Detail `json:"details,omitempty"`
}

// NewListing builds a listing with its id derived from source and slug.
// An unknown latest episode (<= 0) becomes 1.
func NewListing(source Source, slug, title, imageURL string, latestEpisode int) Listing {
	if latestEpisode <= 0 {
		latestEpisode = 1
	}
	return Listing{
		ID:            ListingID(source, slug),
		Title:         title,
		Slug:          slug,
		ImageURL:      imageURL,
		LatestEpisode: latestEpisode,
		Source:        source,
	}
}

func ListingID(source Source, slug string) string {
	return fmt.Sprintf("%s-%s", source, slug)
}

// Key is the identity of a listing, two listings with the same key are the
// same entity.
type Key struct {
	Source Source
	Slug   string
}

func (l Listing) Key() Key {
	return Key{Source: l.Source, Slug: l.Slug}
}

type Episode struct {
	Number int    `json:"number"`
	Slug   string `json:"slug"`
}

// Detail is a listing plus everything found on its detail page.
type Detail struct {
	Listing
	Description string    `json:"description"`
	Genres      []string  `json:"genres"`
	Episodes    []Episode `json:"episodes"`
	Status      string    `json:"status"`
	ReleaseYear int       `json:"releaseYear"`
	Rating      float64   `json:"rating"`
}

// Normalize removes duplicate genres (first seen wins), removes duplicate
// episode numbers (first seen wins) and orders episodes ascending.
func (d *Detail) Normalize() {
	d.Genres = UniqueStrings(d.Genres)
	d.Episodes = NormalizeEpisodes(d.Episodes)
	if d.Genres == nil {
		d.Genres = []string{}
	}
	if len(d.Episodes) > 0 && d.Episodes[len(d.Episodes)-1].Number > d.LatestEpisode {
		d.LatestEpisode = d.Episodes[len(d.Episodes)-1].Number
	}
	if d.LatestEpisode <= 0 {
		d.LatestEpisode = 1
	}
}

func UniqueStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func NormalizeEpisodes(episodes []Episode) []Episode {
	seen := make(map[int]struct{}, len(episodes))
	out := make([]Episode, 0, len(episodes))
	for _, e := range episodes {
		if _, ok := seen[e.Number]; ok {
			continue
		}
		seen[e.Number] = struct{}{}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Number < out[j].Number
	})
	return out
}

// EpisodeSource is a playable or downloadable link for one episode.
type EpisodeSource struct {
	Server     string `json:"server"`
	URL        string `json:"url"`
	Quality    string `json:"quality,omitempty"`
	IsDownload bool   `json:"isDownload"`
	Priority   int    `json:"priority"`
}

type SearchPage struct {
	Items   []Listing `json:"items"`
	HasMore bool      `json:"hasMore"`
}

package engine

import (
	"animeagg/internal/anime"
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

type SortKey string

const (
	SortLatestEpisode SortKey = "latestEpisode"
	SortTitle         SortKey = "title"
	SortRelevance     SortKey = "relevance"
)

// Merge concatenates the groups in order and drops every listing whose
// (source, slug) was already seen.
func Merge(groups ...[]anime.Listing) []anime.Listing {
	seen := map[anime.Key]struct{}{}
	out := []anime.Listing{}
	for _, group := range groups {
		for _, listing := range group {
			key := listing.Key()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, listing)
		}
	}
	return out
}

// Sort orders listings in place by key. Unknown keys, and relevance without
// a query, sort by latest episode. Equal elements keep their order.
func Sort(listings []anime.Listing, key SortKey, query string) {
	query = strings.ToLower(strings.TrimSpace(query))
	if key == SortRelevance && query == "" {
		key = SortLatestEpisode
	}

	switch key {
	case SortTitle:
		sort.SliceStable(listings, func(i, j int) bool {
			return strings.ToLower(listings[i].Title) < strings.ToLower(listings[j].Title)
		})
	case SortRelevance:
		scores := make(map[anime.Key]float64, len(listings))
		for _, l := range listings {
			scores[l.Key()] = matchr.JaroWinkler(strings.ToLower(l.Title), query, true)
		}
		sort.SliceStable(listings, func(i, j int) bool {
			return scores[listings[i].Key()] > scores[listings[j].Key()]
		})
	default:
		sort.SliceStable(listings, func(i, j int) bool {
			return listings[i].LatestEpisode > listings[j].LatestEpisode
		})
	}
}

package anime

import (
	"sort"
	"strings"
)

var (
	DefaultPreferredServers = []string{"Vidstream", "Mp4Upload", "Streamtape"}
	DefaultQualityRanking   = []string{"480p", "360p", "720p", "1080p"}
)

// SortByPriority orders sources by ascending priority, keeping extraction
// order between equal priorities.
func SortByPriority(sources []EpisodeSource) {
	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].Priority < sources[j].Priority
	})
}

// FilterServers orders the list by priority and, when preferred is not
// empty, keeps the entries whose server label contains it (ignoring case).
// If nothing matches only the first entry is returned.
func FilterServers(list []EpisodeSource, preferred string) []EpisodeSource {
	out := make([]EpisodeSource, len(list))
	copy(out, list)
	SortByPriority(out)

	preferred = strings.ToLower(strings.TrimSpace(preferred))
	if preferred == "" || len(out) == 0 {
		return out
	}

	var matched []EpisodeSource
	for _, s := range out {
		if strings.Contains(strings.ToLower(s.Server), preferred) {
			matched = append(matched, s)
		}
	}
	if len(matched) == 0 {
		return out[:1]
	}
	return matched
}

// SelectBestSource keeps the sources served by one of the preferred servers
// (all of them if none are) and orders them by the position of their
// quality in ranking, unknown qualities last.
func SelectBestSource(sources []EpisodeSource, preferredServers, ranking []string) []EpisodeSource {
	if len(preferredServers) == 0 {
		preferredServers = DefaultPreferredServers
	}
	if len(ranking) == 0 {
		ranking = DefaultQualityRanking
	}

	var out []EpisodeSource
	for _, s := range sources {
		server := strings.ToLower(s.Server)
		for _, p := range preferredServers {
			if strings.Contains(server, strings.ToLower(p)) {
				out = append(out, s)
				break
			}
		}
	}
	if len(out) == 0 {
		out = make([]EpisodeSource, len(sources))
		copy(out, sources)
	}

	rank := func(quality string) int {
		for i, q := range ranking {
			if strings.EqualFold(q, quality) {
				return i
			}
		}
		return len(ranking)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return rank(out[i].Quality) < rank(out[j].Quality)
	})
	return out
}

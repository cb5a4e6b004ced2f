package anime

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestNewListing(t *testing.T) {
	listing := NewListing(Zoro, "one-piece-100", "One Piece", "https://img/x.png", 0)
	require.Equal(t, "zoro-one-piece-100", listing.ID)
	require.Equal(t, 1, listing.LatestEpisode)
	require.Equal(t, Key{Source: Zoro, Slug: "one-piece-100"}, listing.Key())

	listing = NewListing(Gogoanime, "naruto", "Naruto", "", 220)
	require.Equal(t, 220, listing.LatestEpisode)
}

func TestParseSource(t *testing.T) {
	table := []struct {
		input    string
		expected Source
	}{
		{input: "gogoanime", expected: Gogoanime},
		{input: "gogo", expected: Gogoanime},
		{input: "9anime", expected: NineAnime},
		{input: "NineAnime", expected: NineAnime},
		{input: " zoro ", expected: Zoro},
	}
	for _, row := range table {
		source, err := ParseSource(row.input)
		require.NoError(t, err)
		require.Equal(t, row.expected, source)
	}

	_, err := ParseSource("crunchyroll")
	var unknown UnknownSourceError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, "crunchyroll", unknown.Name)
}

func TestListingJSONRoundTrip(t *testing.T) {
	detail := &Detail{
		Listing:     NewListing(NineAnime, "bleach", "Bleach", "https://9anime.pl/b.png", 366),
		Description: "Ichigo",
		Genres:      []string{"Action", "Supernatural"},
		Episodes:    []Episode{{Number: 1, Slug: "bleach/ep-1"}},
		Status:      "Completed",
		ReleaseYear: 2004,
		Rating:      8.2,
	}
	listings := []Listing{
		NewListing(Gogoanime, "naruto", "Naruto", "https://gogo/n.png", 220),
		{
			ID:            "nineanime-bleach",
			Title:         "Bleach",
			Slug:          "bleach",
			ImageURL:      "https://9anime.pl/b.png",
			LatestEpisode: 366,
			Source:        NineAnime,
			Detail:        detail,
		},
	}

	for _, listing := range listings {
		encoded, err := json.Marshal(listing)
		require.NoError(t, err)

		var decoded Listing
		require.NoError(t, json.Unmarshal(encoded, &decoded))
		if diff := cmp.Diff(listing, decoded); diff != "" {
			t.Fatal(diff)
		}
	}

	encoded, err := json.Marshal(listings[0])
	require.NoError(t, err)
	require.JSONEq(t, `{
		"id": "gogoanime-naruto",
		"title": "Naruto",
		"slug": "naruto",
		"imageUrl": "https://gogo/n.png",
		"latestEpisode": 220,
		"source": "gogoanime"
	}`, string(encoded))
}

func TestDetailNormalize(t *testing.T) {
	detail := Detail{
		Listing: NewListing(Gogoanime, "x", "X", "", 0),
		Genres:  []string{"Action", " Comedy", "Action", ""},
		Episodes: []Episode{
			{Number: 3, Slug: "x-episode-3"},
			{Number: 1, Slug: "x-episode-1"},
			{Number: 3, Slug: "duplicate"},
			{Number: 2, Slug: "x-episode-2"},
		},
	}
	detail.Normalize()

	require.Equal(t, []string{"Action", "Comedy"}, detail.Genres)
	require.Equal(t, []Episode{
		{Number: 1, Slug: "x-episode-1"},
		{Number: 2, Slug: "x-episode-2"},
		{Number: 3, Slug: "x-episode-3"},
	}, detail.Episodes)
	require.Equal(t, 3, detail.LatestEpisode)
}

package commands

import (
	"animeagg/internal/anime"
	"animeagg/internal/application"
	"animeagg/internal/engine"
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	listLimit    int
	listSortBy   string
	fetchDetails bool
	serverFilter string
	bestOnly     bool
)

func init() {
	trendingCmd.Flags().IntVarP(&listLimit, "limit", "n", 10, "Maximum items per source.")
	trendingCmd.Flags().StringVar(&listSortBy, "sort", "", "Sort key: latestEpisode or title.")
	rootCmd.AddCommand(trendingCmd)

	searchCmd.Flags().IntVarP(&listLimit, "limit", "n", 10, "Maximum items per source.")
	searchCmd.Flags().StringVar(&listSortBy, "sort", "", "Sort key: latestEpisode, title or relevance.")
	searchCmd.Flags().BoolVar(&fetchDetails, "details", false, "Attach the detail record of every result.")
	rootCmd.AddCommand(searchCmd)

	rootCmd.AddCommand(detailCmd)
	rootCmd.AddCommand(episodesCmd)

	sourcesCmd.Flags().StringVar(&serverFilter, "server", "", "Prefer servers whose name contains this.")
	sourcesCmd.Flags().BoolVar(&bestOnly, "best", false, "Rank by the configured preferred servers and qualities.")
	rootCmd.AddCommand(sourcesCmd)
}

func printListings(listings []anime.Listing) error {
	if jsonOutput {
		return printJSON(listings)
	}
	t := newTable()
	t.AppendHeader(table.Row{"Source", "Slug", "Title", "Latest"})
	for _, l := range listings {
		t.AppendRow(table.Row{l.Source, l.Slug, l.Title, l.LatestEpisode})
	}
	t.AppendFooter(table.Row{"", "", "Total", len(listings)})
	t.Render()
	return nil
}

var trendingCmd = &cobra.Command{
	Use:   "trending",
	Short: "Scrape and merge the trending lists of every source.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			listings, err := app.Engine.Trending(cmd.Context(), engine.TrendingOptions{
				Limit:  listLimit,
				SortBy: engine.SortKey(listSortBy),
			})
			if err != nil {
				return err
			}
			return printListings(listings)
		})
	},
}

var searchCmd = &cobra.Command{
	Use:   "search <query...>",
	Short: "Search every source and merge the results.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			listings, err := app.Engine.Search(cmd.Context(), engine.SearchOptions{
				Query:        strings.Join(args, " "),
				Limit:        listLimit,
				FetchDetails: fetchDetails,
				SortBy:       engine.SortKey(listSortBy),
			})
			if err != nil {
				return err
			}
			return printListings(listings)
		})
	},
}

var detailCmd = &cobra.Command{
	Use:   "detail <source> <slug>",
	Short: "Print the detail record of one anime.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := anime.ParseSource(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			detail, err := app.Engine.Detail(cmd.Context(), source, args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(detail)
			}

			t := newTable()
			t.AppendRows([]table.Row{
				{"Title", detail.Title},
				{"Status", detail.Status},
				{"Released", detail.ReleaseYear},
				{"Rating", detail.Rating},
				{"Genres", strings.Join(detail.Genres, ", ")},
				{"Episodes", len(detail.Episodes)},
				{"Image", detail.ImageURL},
			})
			t.Render()
			fmt.Println(detail.Description)
			return nil
		})
	},
}

var episodesCmd = &cobra.Command{
	Use:   "episodes <source> <slug>",
	Short: "List the episodes of one anime.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := anime.ParseSource(args[0])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			episodes, err := app.Engine.Episodes(cmd.Context(), source, args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(episodes)
			}
			t := newTable()
			t.AppendHeader(table.Row{"#", "Slug"})
			for _, e := range episodes {
				t.AppendRow(table.Row{e.Number, e.Slug})
			}
			t.Render()
			return nil
		})
	},
}

var sourcesCmd = &cobra.Command{
	Use:   "sources <source> <slug> <episode>",
	Short: "List the streaming and download links of one episode.",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		source, err := anime.ParseSource(args[0])
		if err != nil {
			return err
		}
		number, err := strconv.Atoi(args[2])
		if err != nil {
			return fmt.Errorf("episode number: %w", err)
		}
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			list, err := app.Engine.EpisodeSources(cmd.Context(), source, args[1], number, serverFilter)
			if err != nil {
				return err
			}
			if bestOnly {
				list = anime.SelectBestSource(list, app.Config.Http.PreferredServers, app.Config.Http.QualityRanking)
			}
			if jsonOutput {
				return printJSON(list)
			}
			t := newTable()
			t.AppendHeader(table.Row{"Server", "Quality", "Download", "Priority", "Url"})
			for _, s := range list {
				t.AppendRow(table.Row{s.Server, s.Quality, s.IsDownload, s.Priority, s.URL})
			}
			t.Render()
			return nil
		})
	},
}

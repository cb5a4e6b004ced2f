package commands

import (
	"animeagg/internal/application"
	"animeagg/internal/jobs"
	"fmt"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mazen160/go-random"
	"github.com/spf13/cobra"
)

var (
	jobPriority string
	jobsLimit   int
	keyLength   int
)

func init() {
	cacheCmd.AddCommand(cacheInvalidateCmd)
	rootCmd.AddCommand(cacheCmd)

	proxiesCmd.AddCommand(proxiesCheckCmd)
	rootCmd.AddCommand(proxiesCmd)

	jobsEnqueueCmd.Flags().StringVarP(&jobPriority, "priority", "p", "normal", "low, normal, high or critical.")
	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "Number of jobs to list.")
	jobsCmd.AddCommand(jobsEnqueueCmd, jobsListCmd, jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)

	keysGenerateCmd.Flags().IntVarP(&keyLength, "length", "l", 32, "Key length.")
	keysCmd.AddCommand(keysGenerateCmd)
	rootCmd.AddCommand(keysCmd)
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the result cache.",
}

var cacheInvalidateCmd = &cobra.Command{
	Use:   "invalidate [pattern]",
	Short: "Remove cache entries matching a pattern ('*' is the only wildcard, default everything).",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		pattern := "*"
		if len(args) == 1 {
			pattern = args[0]
		}
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			removed, err := app.Engine.InvalidateCache(cmd.Context(), pattern)
			if err != nil {
				return err
			}
			fmt.Printf("removed %d entries matching '%s'\n", removed, pattern)
			return nil
		})
	},
}

var proxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Inspect the configured proxy pool.",
}

var proxiesCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Probe every configured proxy and print the ones that answered.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			pool := app.Proxies.Pool()
			healthy := app.Proxies.HealthCheck(cmd.Context(), pool)
			if jsonOutput {
				return printJSON(healthy)
			}
			t := newTable()
			t.AppendHeader(table.Row{"Address", "Healthy"})
			for _, r := range healthy {
				t.AppendRow(table.Row{r.Address, r.Healthy})
			}
			t.AppendFooter(table.Row{"Checked", len(pool)})
			t.Render()
			return nil
		})
	},
}

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage the scrape job queue.",
}

var jobsEnqueueCmd = &cobra.Command{
	Use:   "enqueue <type> [target]",
	Short: "Queue a trending, search, details, episodes or sources job.",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		t, err := jobs.ParseType(args[0])
		if err != nil {
			return err
		}
		priority, err := jobs.ParsePriority(jobPriority)
		if err != nil {
			return err
		}
		target := ""
		if len(args) == 2 {
			target = args[1]
		}
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			job, err := app.Queue.Enqueue(cmd.Context(), t, target, priority)
			if err != nil {
				return err
			}
			return printJobs([]jobs.Job{job})
		})
	},
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the most recent jobs.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			recent, err := app.Queue.Recent(cmd.Context(), jobsLimit)
			if err != nil {
				return err
			}
			return printJobs(recent)
		})
	},
}

var jobsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Process one batch of pending jobs now.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "animeagg-cli", func(app *application.App) error {
			processed, err := app.Runner.ProcessPending(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("processed %d jobs\n", processed)
			return nil
		})
	},
}

func printJobs(list []jobs.Job) error {
	if jsonOutput {
		return printJSON(list)
	}
	t := newTable()
	t.AppendHeader(table.Row{"Id", "Type", "Target", "Priority", "Status", "Attempts", "Created", "Error"})
	for _, j := range list {
		t.AppendRow(table.Row{
			j.ID,
			j.Type,
			j.Target,
			j.Priority,
			j.Status,
			j.Attempts,
			j.CreatedAt.Local().Format(time.DateTime),
			j.Error,
		})
	}
	t.Render()
	return nil
}

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage API keys.",
}

var keysGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Print a random key suitable for http.api_key or admin.secret.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		key, err := random.String(keyLength)
		if err != nil {
			return err
		}
		fmt.Println(key)
		return nil
	},
}

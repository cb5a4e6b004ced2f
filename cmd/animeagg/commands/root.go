package commands

import (
	"animeagg/internal/application"
	"animeagg/internal/components/telemetry"
	"animeagg/lib/serviceutil"
	libtelemetry "animeagg/lib/telemetry"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	jsonOutput bool
)

var rootCmd = &cobra.Command{
	Use:   "animeagg",
	Short: "animeagg aggregates anime listings and streaming links from several sites.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		libtelemetry.InitSlog(verbose)
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging.")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Print raw JSON instead of tables.")
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(os.Stdout)
	return t
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func readConfig() application.Config {
	config, err := application.ReadConfig()
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}
	return config
}

// withApp builds the application from config.json5 for commands that run
// against it in-process.
func withApp(ctx context.Context, serviceName string, fn func(app *application.App) error) error {
	config := readConfig()

	otel, err := libtelemetry.SetupFromEnv(ctx, serviceName)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}
	defer func() {
		err := otel.Shutdown(context.Background())
		if err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	app, err := application.New(ctx, config, telemetry.NewMetricsAPI(telemetry.SlogAPI{}))
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(app)
}

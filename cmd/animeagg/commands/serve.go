package commands

import (
	"animeagg/internal/application"
	libtelemetry "animeagg/lib/telemetry"
	"time"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the REST API, the admin service and the job scheduler.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd.Context(), "animeagg", func(app *application.App) error {
			go libtelemetry.RecordProcessStats(cmd.Context(), time.Second*30)
			return app.Serve(cmd.Context())
		})
	},
}

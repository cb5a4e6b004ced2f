package commands

import (
	"animeagg/internal/admin"
	"animeagg/internal/application"
	"animeagg/internal/components/chrono"
	"animeagg/internal/proxy"
	"animeagg/lib/serviceutil"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
	adminURL     string
	rotateTo     []string
	checkProxies bool
)

func init() {
	adminCmd.PersistentFlags().StringVar(&adminURL, "url", "", "Base url of the running server (default admin.url).")

	adminTokenCmd.Flags().StringVar(&tokenSubject, "subject", "cli", "Token subject.")
	adminTokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "Token lifetime (default admin.token_ttl_minutes).")

	adminProxiesCmd.Flags().StringSliceVar(&rotateTo, "rotate", nil, "Replace the pool with these addresses.")
	adminProxiesCmd.Flags().BoolVar(&checkProxies, "check", false, "Health check the pool (or the rotated pool).")

	adminCmd.AddCommand(adminTokenCmd, adminStatusCmd, adminProxiesCmd)
	rootCmd.AddCommand(adminCmd)
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Talk to the admin service of a running server.",
}

func issueToken(config application.Config, ttl time.Duration) (string, time.Time, error) {
	if config.Admin.Secret == "" {
		return "", time.Time{}, fmt.Errorf("admin.secret is not configured")
	}
	if ttl <= 0 {
		ttl = time.Duration(config.Admin.TokenTTLMinutes) * time.Minute
	}
	tokens := admin.NewTokens(config.Admin.Secret, chrono.StandardImpl{})
	return tokens.Issue(tokenSubject, admin.RoleAdmin, ttl)
}

func adminClient() admin.Client {
	config := readConfig()
	token, _, err := issueToken(config, time.Minute*5)
	if err != nil {
		serviceutil.Fatal("failed to issue admin token", err)
	}
	url := adminURL
	if url == "" {
		url = config.Admin.Url
	}
	return admin.NewClient(
		http.DefaultClient,
		url,
		connect.WithInterceptors(serviceutil.ProvideAccessTokenInterceptor(token)),
	)
}

var adminTokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an admin bearer token signed with admin.secret.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		token, expires, err := issueToken(readConfig(), tokenTTL)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(map[string]any{"token": token, "expiresAt": expires})
		}
		fmt.Println(token)
		return nil
	},
}

var adminStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the status of a running server.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := adminClient().SystemStatus(cmd.Context())
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(status)
		}

		sources := make([]string, len(status.Sources))
		for i, s := range status.Sources {
			sources[i] = s.String()
		}
		t := newTable()
		t.AppendRows([]table.Row{
			{"Sources", strings.Join(sources, ", ")},
			{"Proxy pool", status.ProxyPoolSize},
			{"Anime", status.Catalog.Anime},
			{"Episodes", status.Catalog.Episodes},
			{"Cache hits", status.Engine.CacheHits},
			{"Cache misses", status.Engine.CacheMisses},
			{"Source failures", status.Engine.SourceFailures},
		})
		t.Render()
		return printJobs(status.RecentJobs)
	},
}

var adminProxiesCmd = &cobra.Command{
	Use:   "proxies",
	Short: "Show, rotate or health check the proxy pool of a running server.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client := adminClient()

		var pool []proxy.Record
		switch {
		case len(rotateTo) > 0:
			res, err := client.RotateProxies(cmd.Context(), admin.RotateProxiesRequest{
				Addresses: rotateTo,
				Check:     checkProxies,
			})
			if err != nil {
				return err
			}
			pool = res.Proxies
		case checkProxies:
			res, err := client.CheckProxies(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("%d of %d proxies healthy\n", res.Healthy, res.Checked)
			pool = res.Proxies
		default:
			res, err := client.ProxyStatus(cmd.Context())
			if err != nil {
				return err
			}
			pool = res.Proxies
		}
		if jsonOutput {
			return printJSON(pool)
		}
		t := newTable()
		t.AppendHeader(table.Row{"Address", "Healthy"})
		for _, r := range pool {
			t.AppendRow(table.Row{r.Address, r.Healthy})
		}
		t.Render()
		return nil
	},
}

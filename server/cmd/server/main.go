// Command infradash serves the API manager: the request proxy, the dashboard
// API, the WebSocket status stream and, optionally, gRPC health.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/infradash/infradash/server/internal/config"
	"github.com/infradash/infradash/server/internal/health"
	"github.com/infradash/infradash/server/internal/logging"
	"github.com/infradash/infradash/server/internal/probe"
	"github.com/infradash/infradash/server/internal/registry"
)

// rootOptions holds the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	envFile    string
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. Running the root without a subcommand
// is the same as `serve`.
func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "infradash",
		Short: "Multi-API manager: proxy, health monitor and dashboard backend",
		Long: `infradash reads a list of upstream APIs (name:url[:label[:token]]),
forwards client calls to them under /api/{name}/..., and reports their
liveness and readiness to a dashboard.

Configuration comes from --config (YAML), --env-file (.env) and the
API_CONFIGS, DEFAULT_TENANT, DEFAULT_LANGUAGE and HTTP_PORT variables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to the YAML config file (optional)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "path to a .env file; missing files are ignored")

	root.AddCommand(
		newServeCmd(opts),
		newCheckCmd(opts),
		newAPIsCmd(opts),
	)
	return root
}

// loadConfig loads the .env file, then the YAML file and the environment.
func loadConfig(opts *rootOptions) (*config.Config, error) {
	if err := config.LoadEnvFile(opts.envFile, false); err != nil {
		return nil, err
	}
	return config.Load(opts.configPath)
}

// setupLogging installs the configured logger as the slog default.
func setupLogging(w io.Writer, cfg *config.Config) {
	slog.SetDefault(logging.New(w, cfg.Log.Level, cfg.Log.Format))
}

// newMonitor builds the prober and health monitor from the health settings.
// rec may be nil.
func newMonitor(reg *registry.Registry, h config.HealthConfig, rec health.Recorder) *health.Monitor {
	prober := probe.New(probe.Options{
		Timeout:            h.ProbeTimeout,
		InsecureSkipVerify: h.InsecureSkipVerify,
	})
	return health.NewMonitor(reg, prober, health.Options{
		TTL:            h.CacheTTL,
		MaxConcurrency: h.MaxConcurrency,
		Recorder:       rec,
	})
}

package cli

import (
	"context"
	"fmt"

	"github.com/itsneelabh/agenttrack/core"
	"github.com/itsneelabh/agenttrack/telemetry"
	"github.com/spf13/cobra"
)

var (
	runAgents    []string
	runExporter  string
	runNamespace string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a host with the default tracker agents",
	Long: `Run enables the registry with the configured default agents and blocks.
SIGHUP reloads every active agent; SIGINT or SIGTERM unregisters them and exits.`,
	RunE: runHost,
}

func init() {
	runCmd.Flags().StringSliceVar(&runAgents, "agents", nil, "Default agents to enroll (resolver, variable)")
	runCmd.Flags().StringVar(&runExporter, "telemetry", "", "Enable telemetry with this exporter (stdout, otlp, none)")
	runCmd.Flags().StringVar(&runNamespace, "mirror-namespace", "", "Redis key prefix of the membership mirror")
	rootCmd.AddCommand(runCmd)
}

func runHost(cmd *cobra.Command, args []string) error {
	var extra []core.Option
	if cmd.Flags().Changed("agents") {
		extra = append(extra, core.WithAgents(runAgents...))
	}
	if runExporter != "" {
		extra = append(extra, func(c *core.Config) error {
			c.Telemetry.Enabled = true
			c.Telemetry.Exporter = runExporter
			return nil
		})
	}
	if runNamespace != "" {
		extra = append(extra, core.WithMirrorNamespace(runNamespace))
	}

	cfg, err := loadConfig(extra...)
	if err != nil {
		return err
	}

	logger := core.NewProductionLogger(cfg.Logging, cfg.Development, cfg.Name)
	hostOpts := []core.HostOption{
		core.WithHostConfig(cfg),
		core.WithHostLogger(logger),
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if cfg.Telemetry.Enabled {
		provider, err := telemetry.NewProvider(ctx, cfg.Telemetry, cfg.ServiceName(),
			telemetry.WithLogger(logger),
			telemetry.WithWriter(cmd.ErrOrStderr()),
			telemetry.WithGlobal(),
		)
		if err != nil {
			return fmt.Errorf("starting telemetry: %w", err)
		}
		hostOpts = append(hostOpts,
			core.WithHostTelemetry(provider),
			core.WithShutdownHook(provider.Shutdown),
		)
	}

	host, err := core.NewHost(hostOpts...)
	if err != nil {
		return fmt.Errorf("creating host: %w", err)
	}
	return host.Run(ctx)
}

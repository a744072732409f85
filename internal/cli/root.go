package cli

import (
	"os"

	"github.com/itsneelabh/agenttrack/core"
	"github.com/spf13/cobra"
)

var (
	buildVersion string
	buildCommit  string
	buildDate    string

	configPath string
	logLevel   string
	redisURL   string
)

var rootCmd = &cobra.Command{
	Use:   "trackerhost",
	Short: "Run and inspect an agent tracking registry",
	Long: `trackerhost keeps the set of active tracker agents consistent across enable,
reload (SIGHUP) and shutdown, optionally mirroring the active set to Redis.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv(core.EnvConfigFile), "Path to a JSON or YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&redisURL, "redis-url", "", "Redis URL of the membership mirror")
}

// Execute runs the root command with build info injected via ldflags.
func Execute(version, commit, date string) error {
	buildVersion = version
	buildCommit = commit
	buildDate = date
	return rootCmd.Execute()
}

// loadConfig layers defaults, environment, the config file and flags.
func loadConfig(extra ...core.Option) (*core.Config, error) {
	var opts []core.Option
	if configPath != "" {
		opts = append(opts, core.WithConfigFile(configPath))
	}
	if logLevel != "" {
		opts = append(opts, core.WithLogLevel(logLevel))
	}
	if redisURL != "" {
		opts = append(opts, core.WithMirror(redisURL))
	}
	opts = append(opts, extra...)
	return core.NewConfig(opts...)
}

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/itsneelabh/agenttrack/core"
	"github.com/spf13/cobra"
)

var (
	statusJSON      bool
	statusNamespace string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the agents a host has mirrored to Redis",
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Output in JSON format")
	statusCmd.Flags().StringVar(&statusNamespace, "mirror-namespace", "", "Redis key prefix of the membership mirror")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Mirror.RedisURL == "" {
		return fmt.Errorf("no Redis URL configured: set --redis-url or REDIS_URL")
	}
	namespace := cfg.Mirror.Namespace
	if statusNamespace != "" {
		namespace = statusNamespace
	}

	opt, err := redis.ParseURL(cfg.Mirror.RedisURL)
	if err != nil {
		return fmt.Errorf("parsing Redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	infos, err := core.LoadMirror(ctx, client, namespace)
	if err != nil {
		return err
	}
	return printStatus(cmd, infos)
}

func printStatus(cmd *cobra.Command, infos []core.AgentInfo) error {
	out := cmd.OutOrStdout()

	if statusJSON {
		data, err := json.MarshalIndent(infos, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling status: %w", err)
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	if len(infos) == 0 {
		fmt.Fprintln(out, "No active agents.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "#\tKEY\tTYPE\tREGISTERED\tSTATE")
	for _, info := range infos {
		state := "ok"
		if info.Degraded {
			state = "degraded: " + info.LastError
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			info.Position, info.Key, info.Type, info.RegisteredAt.Format(time.RFC3339), state)
	}
	return w.Flush()
}

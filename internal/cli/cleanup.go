package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/sandbox"
)

var cleanupPrefixes []string

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove stale sandbox containers left by crashed runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		prefixes := cleanupPrefixes
		if len(prefixes) == 0 {
			prefixes = []string{cfg.Sandbox.NamePrefix}
		}

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		runner := sandbox.NewExecDocker()
		if err := runner.Ping(ctx); err != nil {
			return fmt.Errorf("sandbox backend unavailable: %w", err)
		}

		removed, err := sandbox.CleanupStale(ctx, runner, prefixes)
		if err != nil {
			return err
		}
		for _, name := range removed {
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", name)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale sandbox(es)\n", len(removed))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().StringSliceVar(&cleanupPrefixes, "prefix", nil, "container name prefixes to match (default from config)")
}

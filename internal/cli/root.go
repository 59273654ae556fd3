// Package cli wires the Circuitron commands: running the pipeline, cleaning
// up stale sandboxes, inspecting the event log, and managing configuration.
package cli

import (
	"github.com/spf13/cobra"
)

var version = "dev"

func SetVersion(v string) {
	version = v
}

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "circuitron",
	Short: "circuitron — natural language to validated circuit designs",
	Long: `circuitron turns a natural-language hardware request into SKiDL circuit
code: it plans the design, finds and selects parts, researches their
documentation, generates the code, and corrects it until validation and the
electrical rule check pass. Generated code only ever runs inside an
isolated, resource-capped container.`,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./circuitron.yaml, ~/.circuitron/config.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(configCmd)
}

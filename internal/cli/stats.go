package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/db"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/report"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize stage durations and correction effort from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := requireEventLog()
		if err != nil {
			return err
		}
		defer events.Close()

		out := cmd.OutOrStdout()

		stages, err := report.QueryStageStats(events)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "Stage durations:")
		if len(stages) == 0 {
			fmt.Fprintln(out, "  no recorded runs")
		}
		for _, s := range stages {
			fmt.Fprintf(out, "  %-20s runs=%-4d fails=%-3d avg=%.0fms p50=%.0fms p95=%.0fms\n",
				s.Stage, s.Count, s.Fails, s.AvgMs, s.P50Ms, s.P95Ms)
		}

		corrections, err := report.QueryCorrectionStats(events)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, "\nCorrection effort:")
		if len(corrections) == 0 {
			fmt.Fprintln(out, "  no recorded attempts")
		}
		for _, c := range corrections {
			fmt.Fprintf(out, "  %-12s runs=%-4d avg_attempts=%.1f max=%d first_pass=%.0f%%\n",
				c.Phase, c.Runs, c.AvgAttempts, c.MaxAttempts, c.FirstPassRate)
		}
		return nil
	},
}

var historyLimit int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recent run outcomes from the event log",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := requireEventLog()
		if err != nil {
			return err
		}
		defer events.Close()

		outcomes, err := report.QueryRunOutcomes(events, historyLimit)
		if err != nil {
			return err
		}
		if len(outcomes) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "no recorded runs")
			return nil
		}
		for _, o := range outcomes {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-18s %s\n", o.When, o.Outcome, o.RunID)
		}
		return nil
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "maximum runs to list")
}

// requireEventLog opens the configured event log, failing when none is
// configured: the inspection commands are meaningless without one.
func requireEventLog() (*db.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.EventLog == "" {
		return nil, fmt.Errorf("no event log configured: set event_log in the config (use \"default\" for ~/.circuitron/events.db)")
	}
	path := cfg.EventLog
	if path == "default" {
		path, err = db.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return db.Open(path)
}

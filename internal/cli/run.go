package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Shaurya-Sethi/circuitron-sub000/internal/config"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/db"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/lifecycle"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/llm"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/orchestrator"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/pipeline"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/sandbox"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/stage"
	"github.com/Shaurya-Sethi/circuitron-sub000/internal/telemetry"
)

var (
	runOutputDir  string
	runRetries    int
	runYes        bool
	runShowUsage  bool
	runShowReason bool
)

var runCmd = &cobra.Command{
	Use:   "run \"<request>\"",
	Short: "Run the full pipeline for one hardware request",
	Long: `Run the full pipeline: screen the request, plan the design, find and
select parts, research documentation, generate SKiDL code, correct it until
validation and the electrical rule check pass, and write the output
artifacts. The plan is presented for feedback before part search unless
--yes is given.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		log, err := newLogger()
		if err != nil {
			return err
		}
		defer log.Sync()

		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		runner := sandbox.NewExecDocker()
		if err := runner.Ping(ctx); err != nil {
			return fmt.Errorf("sandbox backend unavailable: %w", err)
		}

		agent, err := llm.New(ctx, "", log)
		if err != nil {
			return err
		}

		usage := telemetry.NewAggregator()
		exec := stage.NewExecutor(agent, usage, log, cfg.Pipeline.StageRetries)

		events := openEventLog(cfg, log)
		if events != nil {
			defer events.Close()
		}

		shutdown := lifecycle.NewManager(log)
		stop := shutdown.Trap()
		defer stop()

		o := orchestrator.New(exec, runner, cfg, usage, events, shutdown,
			readPlanFeedback(cmd.InOrStdin(), cmd.OutOrStdout()), log)
		o.SetProgress(cmd.OutOrStdout())

		retries := cfg.Pipeline.OuterRetries
		if cmd.Flags().Changed("retries") {
			retries = runRetries
		}

		result, err := o.Run(ctx, args[0], orchestrator.Options{
			OuterRetries:  retries,
			OutputDir:     runOutputDir,
			Interactive:   !runYes,
			ShowReasoning: runShowReason,
		})
		if err != nil {
			// A rejected request is a normal outcome of the screen, not a
			// process failure: say why and exit cleanly.
			if stage.IsGuardrail(err) {
				fmt.Fprintf(cmd.OutOrStdout(), "\nrequest rejected: %v\n", err)
				return nil
			}
			return err
		}

		printResult(cmd, result)
		if runShowUsage {
			printUsage(cmd, usage.Summary())
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runOutputDir, "output-dir", "o", "", "directory for generated artifacts (default from config)")
	runCmd.Flags().IntVar(&runRetries, "retries", 0, "full-pipeline restarts on transient failure")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "accept the plan without asking for feedback")
	runCmd.Flags().BoolVar(&runShowUsage, "usage", false, "print token usage after the run")
	runCmd.Flags().BoolVar(&runShowReason, "show-reasoning", false, "print intermediate plan and part-selection reasoning")
}

// readPlanFeedback presents the plan on out and collects one line of
// feedback from in. An empty line accepts the plan as-is.
func readPlanFeedback(in io.Reader, out io.Writer) orchestrator.FeedbackFunc {
	reader := bufio.NewReader(in)
	return func(plan *pipeline.Plan) (*pipeline.PlanFeedback, error) {
		fmt.Fprintf(out, "\nProposed plan: %s\n", plan.Summary)
		for _, r := range plan.Requirements {
			fmt.Fprintf(out, "  requirement: %s\n", r)
		}
		for _, b := range plan.Blocks {
			fmt.Fprintf(out, "  block: %s\n", b)
		}
		for _, q := range plan.OpenQuestions {
			fmt.Fprintf(out, "  open question: %s\n", q)
		}
		fmt.Fprint(out, "\nEdits? (empty line to accept): ")

		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			// EOF with no input counts as acceptance, e.g. piped stdin.
			return &pipeline.PlanFeedback{}, nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return &pipeline.PlanFeedback{}, nil
		}
		return &pipeline.PlanFeedback{Edits: []string{line}}, nil
	}
}

func printResult(cmd *cobra.Command, result *pipeline.Result) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nGenerated %d artifact(s):\n", len(result.OutputFiles))
	for _, f := range result.OutputFiles {
		fmt.Fprintf(out, "  %s\n", f)
	}
	if result.Warning != "" {
		fmt.Fprintf(out, "\nwarning: %s\n", result.Warning)
	}
	for _, issue := range result.UnresolvedIssues {
		fmt.Fprintf(out, "  unresolved: %s\n", issue)
	}
}

func printUsage(cmd *cobra.Command, s telemetry.Summary) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "\nToken usage: %d in / %d out (%d total, %d cached)\n",
		s.Overall.Input, s.Overall.Output, s.Overall.Total, s.Overall.CachedInput)
	for model, c := range s.ByModel {
		fmt.Fprintf(out, "  %s: %d in / %d out\n", model, c.Input, c.Output)
	}
}

// loadConfig loads the configured file, or the default search path when no
// --config flag was given.
func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.Load(configPath)
	}
	return config.LoadDefault()
}

func newLogger() (*zap.Logger, error) {
	if verbose {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// openEventLog opens the sqlite event log when one is configured. The log
// is diagnostics only, so a failure to open it degrades to a warning.
func openEventLog(cfg *config.Config, log *zap.Logger) *db.DB {
	if cfg.EventLog == "" {
		return nil
	}
	path := cfg.EventLog
	if path == "default" {
		p, err := db.DefaultPath()
		if err != nil {
			log.Warn("event log disabled", zap.Error(err))
			return nil
		}
		path = p
	}
	events, err := db.Open(path)
	if err != nil {
		log.Warn("event log disabled", zap.String("path", path), zap.Error(err))
		return nil
	}
	return events
}

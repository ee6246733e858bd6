package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yungbote/arfor-backend/internal/app"
	"github.com/yungbote/arfor-backend/internal/platform/openai"
	"github.com/yungbote/arfor-backend/internal/platform/shutdown"
)

var (
	analyzeJSON    bool
	analyzeTimeout time.Duration
	analyzeQuiet   bool
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze TICKER",
	Short: "Run one analysis locally and print the report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := app.Bootstrap()
		if err != nil {
			return err
		}
		defer log.Sync()

		llm, err := openai.NewClient(log)
		if err != nil {
			return err
		}
		prompts, err := app.LoadPrompts(log, cfg.Pipeline)
		if err != nil {
			return err
		}
		if analyzeTimeout > 0 {
			cfg.Pipeline.GlobalTimeout = analyzeTimeout
		}

		ctx, stop := shutdown.NotifyContext(context.Background())
		defer stop()

		lr := app.LocalRun{
			Log:      log,
			Pipeline: cfg.Pipeline,
			Billing:  cfg.Billing,
			Invoker:  app.NewInvoker(llm),
			Prompts:  prompts,
		}
		if !analyzeQuiet {
			lr.Progress = os.Stderr
		}
		report, err := lr.Analyze(ctx, args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if analyzeJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(report.ResultData())
		}
		_, err = fmt.Fprintln(out, report.Markdown)
		return err
	},
}

func init() {
	analyzeCmd.Flags().BoolVar(&analyzeJSON, "json", false, "print the result payload as JSON instead of markdown")
	analyzeCmd.Flags().DurationVar(&analyzeTimeout, "timeout", 0, "override the pipeline deadline")
	analyzeCmd.Flags().BoolVarP(&analyzeQuiet, "quiet", "q", false, "suppress stage progress on stderr")
}

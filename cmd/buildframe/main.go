// Command buildframe builds a single (model, run, variable, forecast hour)
// frame and exits, for manual backfills and debugging a build without
// running the full scheduler poll loop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/airbusgeo/godal"
	"github.com/spf13/cobra"

	"github.com/wxgrid/nwxserve/internal/config"
	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/pipeline"
	"github.com/wxgrid/nwxserve/internal/wiring"
	"github.com/wxgrid/nwxserve/internal/wxlog"
)

var (
	verbose bool
	model   string
	run     string
	varKey  string
	fh      int
	publish bool
)

var rootCmd = &cobra.Command{
	Use:   "buildframe",
	Short: "build one model/run/variable/forecast-hour frame",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if verbose {
			wxlog.Development()
		} else {
			wxlog.Structured()
		}
		godal.RegisterAll()
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		return runBuild(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "development (console) logging instead of structured JSON")
	rootCmd.Flags().StringVar(&model, "model", "", "model id, e.g. hrrr")
	rootCmd.MarkFlagRequired("model")
	rootCmd.Flags().StringVar(&run, "run", "", "run id (YYYYMMDD_HHz); required (latest-run discovery lives in cmd/scheduler)")
	rootCmd.Flags().StringVar(&varKey, "var", "", "variable key")
	rootCmd.MarkFlagRequired("var")
	rootCmd.Flags().IntVar(&fh, "fh", 0, "forecast hour")
	rootCmd.Flags().BoolVar(&publish, "publish", false, "promote the staging run to published after a successful build")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		wxlog.Sugar(ctx).Errorw("buildframe failed", "err", err)
		os.Exit(1)
	}
}

func runBuild(ctx context.Context) error {
	cfg := config.Default()
	cfg, err := config.FromEnv(cfg)
	if err != nil {
		return fmt.Errorf("config.FromEnv: %w", err)
	}

	bundle, err := wiring.Build(ctx, cfg)
	if err != nil {
		return fmt.Errorf("wiring.Build: %w", err)
	}

	if _, err := bundle.Registry.GetModel(model); err != nil {
		return err
	}
	if run == "" {
		return fmt.Errorf("buildframe: --run is required (latest-run discovery is scheduler-only)")
	}
	runID := run

	dir, ok, err := pipeline.BuildFrame(ctx, bundle.Deps, pipeline.Request{
		Model: model, Run: runID, VarKey: varKey, FH: fh,
	})
	if err != nil {
		return fmt.Errorf("buildframe: %w", err)
	}
	if !ok {
		wxlog.Sugar(ctx).Infow("frame not yet available upstream", "model", model, "run", runID, "var", varKey, "fh", fh)
		return nil
	}
	wxlog.Sugar(ctx).Infow("frame built", "model", model, "run", runID, "var", varKey, "fh", fh, "dir", dir)

	if publish {
		if err := layout.PromoteRun(cfg.DataRoot, model, runID); err != nil {
			return fmt.Errorf("promote: %w", err)
		}
	}
	return nil
}

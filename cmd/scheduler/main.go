// Command scheduler runs the per-model poll loops (spec.md section 4.8)
// and the Read API HTTP server (spec.md section 4.9) side by side in one
// long-running process, sharing the same data root and capability
// registry. This mirrors the teacher's tiler-main.go: one PersistentPreRunE
// wires every collaborator once, subcommands just borrow it.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/airbusgeo/godal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/wxgrid/nwxserve/internal/api"
	"github.com/wxgrid/nwxserve/internal/config"
	"github.com/wxgrid/nwxserve/internal/layout"
	"github.com/wxgrid/nwxserve/internal/loopcache"
	"github.com/wxgrid/nwxserve/internal/scheduler"
	"github.com/wxgrid/nwxserve/internal/wiring"
	"github.com/wxgrid/nwxserve/internal/wxlog"
)

var (
	verbose    bool
	listenAddr string
	models     []string
	once       bool
)

var cfg config.Config
var bundle wiring.Bundle

var rootCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "nwxserve build scheduler and read API",
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

		var err error
		cfg = config.Default()
		cfg, err = config.FromEnv(cfg)
		if err != nil {
			return fmt.Errorf("config.FromEnv: %w", err)
		}

		bundle, err = wiring.Build(cmd.Context(), cfg)
		if err != nil {
			return fmt.Errorf("wiring.Build: %w", err)
		}
		return nil
	},

	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "development (console) logging instead of structured JSON")
	rootCmd.Flags().StringVar(&listenAddr, "listen", ":8080", "read API listen address")
	rootCmd.Flags().StringSliceVar(&models, "models", nil, "model ids to schedule; empty schedules every model in the registry")
	rootCmd.Flags().BoolVar(&once, "once", false, "run a single poll iteration per model instead of looping")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		wxlog.Sugar(ctx).Errorw("scheduler exited with error", "err", err)
		os.Exit(1)
	}
}

// runServe starts one scheduler.Scheduler goroutine per configured model
// plus the Read API's http.Server, and returns once the context is
// cancelled or any of them fails.
func runServe(ctx context.Context) error {
	lay := layout.New(cfg.DataRoot)
	loop := loopcache.New(cfg.LoopCacheRoot, cfg.DataRoot, bundle.Registry, bundle.Deps.ContourRunner,
		loopcache.TierConfig{Quality: cfg.LoopWebPTier0Quality, MaxDim: cfg.LoopWebPTier0MaxDim},
		loopcache.TierConfig{Quality: cfg.LoopWebPTier1Quality, MaxDim: cfg.LoopWebPTier1MaxDim},
	)

	targetModels := models
	if len(targetModels) == 0 {
		for _, m := range bundle.Registry.ListModels() {
			targetModels = append(targetModels, m.ModelID)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, modelID := range targetModels {
		modelID := modelID
		sched := scheduler.New(scheduler.Config{
			Model:       modelID,
			WorkerCount: cfg.Workers,
			KeepRuns:    cfg.KeepRuns,
			ProbeVar:    cfg.ProbeVar,

			PollComplete:   cfg.PollSecondsComplete,
			PollIncomplete: cfg.PollSecondsIncomplete,
			Once:           once,
		}, bundle.Deps)
		sched.Loop = loop
		g.Go(func() error {
			if err := sched.Run(ctx); err != nil && ctx.Err() == nil {
				return fmt.Errorf("scheduler(%s): %w", modelID, err)
			}
			return nil
		})
	}

	apiSrv := api.NewServer(bundle.Registry, lay, loop, api.Config{
		DataRoot:              cfg.DataRoot,
		JSONCacheRecheck:      cfg.JSONCacheRecheck,
		SampleCacheTTL:        cfg.SampleCacheTTL,
		SampleInflightWait:    cfg.SampleInflightWait,
		SampleRateLimitWindow: cfg.SampleRateLimitWindow,
		SampleRateLimitMax:    cfg.SampleRateLimitMax,
	})
	httpSrv := &http.Server{Addr: listenAddr, Handler: apiSrv.Router()}

	g.Go(func() error {
		wxlog.Sugar(ctx).Infow("read api listening", "addr", listenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	if err != nil && strings.Contains(err.Error(), "context canceled") {
		return nil
	}
	return err
}

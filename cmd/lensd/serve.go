package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/lensd/internal/accessor"
	"github.com/srg/lensd/internal/poller"
	"github.com/srg/lensd/internal/shmring"
	"github.com/srg/lensd/internal/stoppable"
	"github.com/srg/lensd/internal/stringpool"
	"github.com/srg/lensd/internal/telemetry"
	"github.com/srg/lensd/internal/tics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Open the shared-memory region and start draining it",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return err
	}

	for _, dir := range []string{"frames", "zone-db", "plots"} {
		path := filepath.Join(cfg.DataDir, dir)
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("lensd: failed to clean %s: %w", path, err)
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("lensd: failed to create %s: %w", path, err)
		}
	}

	region, err := shmring.CreateRegion(cfg.ShmDir, cfg.ShmName)
	if err != nil {
		if errors.Is(err, shmring.ErrAlreadyRunning) {
			fmt.Fprintln(os.Stderr, color.RedString("FATAL: another lensd instance already owns %s/%s", cfg.ShmDir, cfg.ShmName))
			os.Exit(1)
		}
		return err
	}

	frames := tics.New[telemetry.Frame]("frames", filepath.Join(cfg.DataDir, "frames"), telemetry.FrameCodec(), logger)
	zones := tics.New[telemetry.LiteZoneData]("zones", filepath.Join(cfg.DataDir, "zone-db"), telemetry.ZoneCodec(), logger)
	plots := tics.New[telemetry.PlotSample]("plots", filepath.Join(cfg.DataDir, "plots"), telemetry.PlotCodec(), logger)
	pool := stringpool.New()

	p := poller.New(region, frames, zones, plots, pool, logger, poller.WithKeepAliveWatchdog())

	// The HTTP layer that would consume this accessor is out of scope for
	// this binary; constructing it here demonstrates the wiring point.
	_ = accessor.New(pool, frames, zones, plots)
	logger.WithField("http_bind_addr", cfg.HTTPBindAddr).
		Info("lensd: query accessor ready; HTTP layer wiring is out of scope for this binary")

	thread := stoppable.New[*poller.Poller]("lensd-poller")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("lensd: received interrupt signal, shutting down")
		cancel()
	}()

	color.Green("lensd: serving from %s", filepath.Join(cfg.ShmDir, cfg.ShmName))
	thread.Start(ctx, p, func(ctx context.Context, p *poller.Poller) {
		p.Tick(ctx)
	})

	<-ctx.Done()
	thread.Stop()

	if err := region.Close(); err != nil {
		logger.WithError(err).Error("lensd: failed to release shared memory on shutdown")
	}
	return nil
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"SensorPull/internal/di"
	drepo "SensorPull/internal/domain/repository"
	"SensorPull/pkg/config"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Printf("sensorpull: %v", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:           "sensorpull",
		Short:         "Sensor anomaly detection pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")
	cmd.AddCommand(realtimeCmd(&configPath), batchCmd(&configPath))
	return cmd
}

func realtimeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "realtime",
		Short: "Collect readings continuously until interrupted",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithEnv(*configPath)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}

			app, err := di.InitializeRealtimeApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunRealtime(ctx)
		},
	}
}

func batchCmd(configPath *string) *cobra.Command {
	var (
		date string
		days int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Replay stored daily partitions through the engine",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadWithEnv(*configPath)
			if err != nil {
				return fmt.Errorf("config load failed: %w", err)
			}

			start := drepo.PartitionDay(time.Now().AddDate(0, 0, -1))
			if date != "" {
				if start, err = drepo.ParsePartition(date); err != nil {
					return err
				}
			}
			if !cmd.Flags().Changed("days") {
				days = cfg.Batch.Days
			}
			if days < 1 {
				return fmt.Errorf("--days must be >= 1")
			}

			app, err := di.InitializeBatchApp(cfg)
			if err != nil {
				return fmt.Errorf("app initialization failed: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.RunBatch(ctx, start, days)
		},
	}
	cmd.Flags().StringVar(&date, "date", "", "first partition, YYYY-MM-DD (default yesterday, UTC)")
	cmd.Flags().IntVar(&days, "days", 1, "number of consecutive daily partitions")
	return cmd
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/telemetry"
	"github.com/concilia/concilia/internal/worker"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Poll the job queue and execute claimed jobs",
	Long: `Runs the queue poller until interrupted. Polling cadence and the
parallel matcher tuning come from the WORKER_* environment variables;
several workers may share one database, the atomic claim keeps each job
on exactly one of them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := telemetry.Init(rootCtx, "concilia-worker", Version); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: telemetry init: %v\n", err)
		}

		settings := config.WorkerSettingsFromEnv()
		w := worker.New(store, settings)
		if !jsonOutput {
			fmt.Printf("Worker polling every %s (threads enabled: %v)\n",
				settings.PollInterval, settings.ThreadsEnabled)
		}

		err := w.Run(rootCtx)
		if errors.Is(err, context.Canceled) {
			if !jsonOutput {
				fmt.Println("Worker stopped.")
			}
			return nil
		}
		return err
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

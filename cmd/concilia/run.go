package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/runner"
)

var runCmd = &cobra.Command{
	Use:   "run <job-id>",
	Short: "Execute one job in the foreground",
	Long: `Runs the full pipeline for one job without going through the worker
queue. The job must not be terminal; the terminal status (DONE or FAILED)
is written before the command returns.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}

		r := runner.New(store, config.WorkerSettingsFromEnv())
		if err := r.Run(rootCtx, id); err != nil {
			printFail("Job %d failed: %v", id, err)
			return err
		}
		printPass("Job %d done", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

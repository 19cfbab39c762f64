package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/export"
)

var exportDir string

var exportCmd = &cobra.Command{
	Use:   "export <job-id>",
	Short: "Export a finished job to a two-sheet zip archive",
	Long: `Writes conciliacao_<jobId>.zip containing Base_A.csv and Base_B.csv:
each sheet reproduces the base's original columns and appends the status,
chave and grupo columns from the job's result table. The job must be DONE.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid job id %q", args[0])
		}

		dir := exportDir
		if dir == "" {
			dir = config.GetString("export-dir")
		}
		path, err := export.New(store).Export(rootCtx, id, dir)
		if err != nil {
			return err
		}
		if jsonOutput {
			fmt.Printf("{\"job\":%d,\"arquivo\":%q}\n", id, path)
			return nil
		}
		printPass("Exported job %d to %s", id, path)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "Target directory (default: export-dir config, else CWD)")
	rootCmd.AddCommand(exportCmd)
}

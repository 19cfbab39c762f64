package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/concilia/concilia/internal/storage/sqlite"
	"github.com/concilia/concilia/internal/types"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check database health",
	Long: `Verifies the schema is present and intact, reports row counts per
table, and flags result tables whose owning job no longer exists.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		db := store.UnderlyingDB()

		var missing []string
		for _, table := range sqlite.RequiredTables() {
			ok, err := sqlite.TableExists(db, table)
			if err != nil {
				return err
			}
			if !ok {
				missing = append(missing, table)
			}
		}
		if len(missing) > 0 {
			for _, table := range missing {
				printFail("Missing table: %s", table)
			}
			printWarn("Schema incomplete — run 'concilia init'")
			return fmt.Errorf("%d required table(s) missing", len(missing))
		}

		integrity, err := store.IntegrityCheck(rootCtx)
		if err != nil {
			return err
		}
		stats, err := store.Statistics(rootCtx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(struct {
				Integrity string            `json:"integrity"`
				Stats     *types.Statistics `json:"stats"`
			}{integrity, stats})
		}

		if integrity == "ok" {
			printPass("Integrity check ok")
		} else {
			printFail("Integrity check: %s", integrity)
		}

		fmt.Printf("  bases:         %d\n", stats.Bases)
		fmt.Printf("  configs:       %d\n", stats.Configs)
		fmt.Printf("  marks:         %d\n", stats.Marks)
		fmt.Printf("  result tables: %d\n", stats.ResultTables)

		statuses := make([]string, 0, len(stats.JobsByStatus))
		for status := range stats.JobsByStatus {
			statuses = append(statuses, status)
		}
		sort.Strings(statuses)
		for _, status := range statuses {
			fmt.Printf("  jobs %-8s  %d\n", status, stats.JobsByStatus[status])
		}

		if len(stats.OrphanedTables) > 0 {
			printWarn("Orphaned result tables (no matching job): %v", stats.OrphanedTables)
		} else {
			printPass("No orphaned result tables")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

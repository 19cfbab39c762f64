package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

var basesCmd = &cobra.Command{
	Use:   "bases",
	Short: "Inspect registered bases",
}

var basesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered bases",
	RunE: func(cmd *cobra.Command, args []string) error {
		bases, err := store.ListBases(rootCtx)
		if err != nil {
			return err
		}

		if jsonOutput {
			return json.NewEncoder(os.Stdout).Encode(bases)
		}
		if len(bases) == 0 {
			fmt.Println("No bases registered.")
			return nil
		}

		headers := []string{"ID", "NOME", "TIPO", "ROWS"}
		var rows, plain [][]string
		for _, base := range bases {
			count, err := store.CountBaseRows(rootCtx, base.ID)
			if err != nil {
				return err
			}
			row := []string{
				strconv.FormatInt(base.ID, 10),
				base.Nome,
				string(base.Tipo),
				strconv.FormatInt(count, 10),
			}
			rows = append(rows, row)
			plain = append(plain, row)
		}
		renderTable(headers, rows, plain)
		return nil
	},
}

func init() {
	basesCmd.AddCommand(basesListCmd)
	rootCmd.AddCommand(basesCmd)
}

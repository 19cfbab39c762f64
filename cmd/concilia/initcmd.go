package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/storage/sqlite"
)

const (
	conciliaDirName = ".concilia"
	defaultDBName   = "concilia.db"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the project database and configuration",
	Long: `Creates a .concilia directory in the current working directory with a
config.yaml and an initialized SQLite database (schema plus migrations).
Safe to re-run: an existing database is migrated in place, never recreated.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("get working directory: %w", err)
		}
		dir := filepath.Join(cwd, conciliaDirName)
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}

		configPath := filepath.Join(dir, "config.yaml")
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			data, err := yaml.Marshal(&config.LocalConfig{Db: defaultDBName})
			if err != nil {
				return fmt.Errorf("encode config.yaml: %w", err)
			}
			if err := os.WriteFile(configPath, data, 0o640); err != nil {
				return fmt.Errorf("write %s: %w", configPath, err)
			}
		}

		// Honor an explicit --db; otherwise the database lives next to the
		// config file.
		path := dbPath
		if path == "" {
			path = config.GetLocalDBPath(dir)
			if path == "" {
				path = defaultDBName
			}
			if !filepath.IsAbs(path) {
				path = filepath.Join(dir, path)
			}
		}

		s, err := sqlite.New(rootCtx, path)
		if err != nil {
			return fmt.Errorf("initialize database %s: %w", path, err)
		}
		defer s.Close()

		if jsonOutput {
			fmt.Printf("{\"database\":%q,\"config\":%q}\n", path, configPath)
			return nil
		}
		printPass("Initialized database %s", path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}

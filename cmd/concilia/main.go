// Command concilia is the reconciliation CLI: it manages the project
// database, submits and inspects jobs, runs the queue worker and exports
// finished results.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/concilia/concilia/internal/config"
	"github.com/concilia/concilia/internal/debug"
	"github.com/concilia/concilia/internal/storage/sqlite"
	"github.com/concilia/concilia/internal/telemetry"
)

var (
	dbPath      string
	jsonOutput  bool
	verboseFlag bool
	quietFlag   bool
	noColorFlag bool

	store *sqlite.SQLiteStorage

	// Signal-aware context for graceful cancellation.
	rootCtx    context.Context
	rootCancel context.CancelFunc
)

// noDbCommands don't open (or even locate) a database.
var noDbCommands = map[string]bool{
	"init":       true,
	"version":    true,
	"help":       true,
	"completion": true,
}

func isNoDbCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if noDbCommands[c.Name()] {
			return true
		}
	}
	return false
}

func init() {
	if err := config.Initialize(); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to initialize config: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Database path (default: auto-discover .concilia/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verboseFlag, "verbose", "v", false, "Enable verbose/debug output")
	rootCmd.PersistentFlags().BoolVarP(&quietFlag, "quiet", "q", false, "Suppress non-essential output (errors only)")
	rootCmd.PersistentFlags().BoolVar(&noColorFlag, "no-color", false, "Disable colored output")

	rootCmd.Flags().BoolP("version", "V", false, "Print version information")
}

var rootCmd = &cobra.Command{
	Use:   "concilia",
	Short: "concilia - Base A x Base B reconciliation",
	Long: `Reconciles an accounting base (CONTABIL) against a fiscal base (FISCAL):
normalizes missing values, neutralizes estorno pairs, suppresses cancelled
fiscal rows and matches the remainder by composite business keys.`,
	Run: func(cmd *cobra.Command, args []string) {
		if v, _ := cmd.Flags().GetBool("version"); v {
			fmt.Printf("concilia version %s (%s)\n", Version, Build)
			return
		}
		_ = cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupSignalContext()
		applyVerbosityFlags()
		applyFlagOverrides(cmd)

		if isNoDbCommand(cmd) {
			return nil
		}
		return openStore(rootCtx)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if store != nil {
			if err := store.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
			store = nil
		}
		telemetry.Shutdown(context.Background())
		if rootCancel != nil {
			rootCancel()
		}
	},
	SilenceUsage: true,
}

// setupSignalContext installs a context cancelled by SIGINT/SIGTERM so long
// loops (worker, export) unwind cleanly.
func setupSignalContext() {
	rootCtx, rootCancel = signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func applyVerbosityFlags() {
	debug.SetVerbose(verboseFlag)
	debug.SetQuiet(quietFlag)
}

// applyFlagOverrides pushes set flags into the config singleton so flag >
// env > file precedence holds for every reader.
func applyFlagOverrides(cmd *cobra.Command) {
	if cmd.Flags().Changed("db") {
		config.Set("db", dbPath)
	}
	if cmd.Flags().Changed("json") {
		config.Set("json", jsonOutput)
	}
	if cmd.Flags().Changed("no-color") {
		config.Set("no-color", noColorFlag)
	}
	jsonOutput = jsonOutput || config.GetBool("json")
}

// resolveDBPath locates the database: --db / CONCILIA_DB / config file first,
// then the discovered project's .concilia directory.
func resolveDBPath() (string, error) {
	if p := config.GetString("db"); p != "" {
		return p, nil
	}

	dir, err := config.FindProjectDir()
	if err != nil {
		return "", err
	}
	p := config.GetLocalDBPath(dir)
	if p == "" {
		p = defaultDBName
	}
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return p, nil
}

func openStore(ctx context.Context) error {
	if ctx == nil {
		ctx = rootCtx
	}
	path, err := resolveDBPath()
	if err != nil {
		return err
	}
	s, err := sqlite.New(ctx, path)
	if err != nil {
		return fmt.Errorf("open database %s: %w", path, err)
	}
	store = s
	debug.Logf("[cli] using database %s\n", path)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

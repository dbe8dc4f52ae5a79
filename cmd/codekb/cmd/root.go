// Package cmd provides the CLI commands for CodeKB. The CLI is a thin
// caller of the knowledge base facade; no indexing or search logic lives
// here.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/codekb/codekb/internal/config"
	"github.com/codekb/codekb/internal/kb"
	"github.com/codekb/codekb/internal/logging"
	"github.com/codekb/codekb/pkg/version"
)

var (
	flagRoot       string
	flagDebug      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the codekb CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "codekb",
		Short: "Local code knowledge engine",
		Long: `CodeKB builds a searchable full-text index of a source tree and
answers ranked queries scoped by path, language, and pattern.

Indexing is incremental: unchanged files are detected by content hash
and skipped, so re-indexing a large tree after a small edit is cheap.`,
		Version:       version.Short(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("codekb version {{.Version}}\n")

	cmd.PersistentFlags().StringVarP(&flagRoot, "root", "r", ".", "Root of the indexed tree")
	cmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging to the data directory")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newFilesCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newClearCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func setupLogging(_ *cobra.Command, _ []string) error {
	root, err := resolveRoot()
	if err != nil {
		return err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return err
	}

	logCfg := logging.Config{
		Level:     cfg.Logging.Level,
		FilePath:  filepath.Join(cfg.DataDir(root), "logs", "codekb.log"),
		MaxSizeMB: cfg.Logging.MaxSizeMB,
		MaxFiles:  cfg.Logging.MaxFiles,
	}
	if flagDebug {
		logCfg.Level = "debug"
		logCfg.WriteToStderr = true
	}

	cleanup, err := logging.SetupDefault(logCfg)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	loggingCleanup = cleanup
	return nil
}

// resolveRoot returns the absolute indexed root from the --root flag.
func resolveRoot() (string, error) {
	root := flagRoot
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve root: %w", err)
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("root is not a directory: %s", abs)
	}
	return abs, nil
}

// openKB loads the configuration and opens the knowledge base handle.
func openKB() (*kb.KB, *config.Config, string, error) {
	root, err := resolveRoot()
	if err != nil {
		return nil, nil, "", err
	}
	cfg, err := config.Load(root)
	if err != nil {
		return nil, nil, "", err
	}
	handle, err := kb.Open(cfg.DataDir(root), cfg.Index.Workers)
	if err != nil {
		return nil, nil, "", err
	}
	if handle.NeedsRebuild() {
		slog.Warn("index was corrupt and cleared; run 'codekb index --force'")
	}
	return handle, cfg, root, nil
}
